package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aatumaykin/xavier/internal/tools"
)

type WriteFileTool struct {
	fileToolBase
}

type WriteFileArgs struct {
	Username string `json:"username"`
	Path     string `json:"path"`
	Content  string `json:"content"`
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Create or overwrite a file in your personal storage. Parent directories are created."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"path": map[string]any{
			"type":        "string",
			"description": "File path relative to your storage root.",
		},
		"content": map[string]any{
			"type":        "string",
			"description": "Full new content of the file.",
		},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, args string) (string, error) {
	var a WriteFileArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if a.Path == "" {
		return "", tools.NewValidationError("MISSING_PATH", "path is required", nil)
	}

	ws, full, err := t.resolve(a.Username, a.Path)
	if err != nil {
		return "", err
	}
	if full == ws.Path() {
		return "", tools.NewValidationError("IS_DIRECTORY", "path must name a file", nil)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := writeSynced(full, []byte(a.Content), os.O_CREATE|os.O_WRONLY|os.O_TRUNC); err != nil {
		return "", err
	}

	return fmt.Sprintf("Wrote %d bytes to %s", len(a.Content), ws.Rel(full)), nil
}

// AppendFileTool appends to a file, creating it when missing.
type AppendFileTool struct {
	fileToolBase
}

func (t *AppendFileTool) Name() string { return "append_file" }

func (t *AppendFileTool) Description() string {
	return "Append text to the end of a file in your personal storage. Creates the file if missing."
}

func (t *AppendFileTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"path": map[string]any{
			"type":        "string",
			"description": "File path relative to your storage root.",
		},
		"content": map[string]any{
			"type":        "string",
			"description": "Text to append.",
		},
	}, "path", "content")
}

func (t *AppendFileTool) Execute(ctx context.Context, args string) (string, error) {
	var a WriteFileArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if a.Path == "" {
		return "", tools.NewValidationError("MISSING_PATH", "path is required", nil)
	}

	ws, full, err := t.resolve(a.Username, a.Path)
	if err != nil {
		return "", err
	}
	if full == ws.Path() {
		return "", tools.NewValidationError("IS_DIRECTORY", "path must name a file", nil)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := writeSynced(full, []byte(a.Content), os.O_CREATE|os.O_WRONLY|os.O_APPEND); err != nil {
		return "", err
	}

	return fmt.Sprintf("Appended %d bytes to %s", len(a.Content), ws.Rel(full)), nil
}

func writeSynced(path string, data []byte, flag int) error {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return f.Close()
}
