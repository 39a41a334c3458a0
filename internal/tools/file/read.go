package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aatumaykin/xavier/internal/tools"
)

const defaultReadLimit = 2000

type ReadFileTool struct {
	fileToolBase
}

type ReadFileArgs struct {
	Username string `json:"username"`
	Path     string `json:"path"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from your personal storage. Returns the content with line numbers."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"path": map[string]any{
			"type":        "string",
			"description": "File path relative to your storage root.",
		},
		"offset": map[string]any{
			"type":        "integer",
			"description": "First line to return (0-based).",
			"default":     0,
		},
		"limit": map[string]any{
			"type":        "integer",
			"description": "Maximum number of lines to return.",
			"default":     defaultReadLimit,
		},
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, args string) (string, error) {
	var a ReadFileArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if a.Path == "" {
		return "", tools.NewValidationError("MISSING_PATH", "path is required", nil)
	}
	if a.Limit <= 0 {
		a.Limit = defaultReadLimit
	}
	if a.Offset < 0 {
		a.Offset = 0
	}

	ws, full, err := t.resolve(a.Username, a.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", statErr(a.Path, err)
	}
	if info.IsDir() {
		return "", tools.NewValidationError("IS_DIRECTORY", fmt.Sprintf("path is a directory: %s", a.Path), nil)
	}
	if t.maxReadSize > 0 && info.Size() > t.maxReadSize {
		return "", tools.NewValidationError("FILE_TOO_LARGE",
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), t.maxReadSize), nil)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := splitLines(string(data))
	rel := ws.Rel(full)
	if a.Offset >= len(lines) && len(lines) > 0 {
		return fmt.Sprintf("# File: %s\n# Offset %d is beyond file length (%d lines)\n", rel, a.Offset, len(lines)), nil
	}

	end := min(a.Offset+a.Limit, len(lines))
	var b strings.Builder
	fmt.Fprintf(&b, "# File: %s (lines %d-%d of %d)\n", rel, min(a.Offset+1, end), end, len(lines))
	for i := a.Offset; i < end; i++ {
		fmt.Fprintf(&b, "%06d| %s\n", i+1, lines[i])
	}
	return b.String(), nil
}
