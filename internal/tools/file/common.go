// Package file implements the user-scoped file tools. Every call carries a
// username, which the engine forces to the caller's identity, and a path
// relative to that user's sandbox.
package file

import (
	"fmt"
	"os"

	"github.com/aatumaykin/xavier/internal/tools"
	"github.com/aatumaykin/xavier/internal/workspace"
)

// Register adds every file tool to reg.
func Register(reg *tools.Registry, root *workspace.Root, maxReadSize int64) error {
	base := fileToolBase{root: root, maxReadSize: maxReadSize}
	for _, t := range []tools.Tool{
		&ListFilesTool{base},
		&ReadFileTool{base},
		&WriteFileTool{base},
		&AppendFileTool{base},
		&DeleteFileTool{base},
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type fileToolBase struct {
	root        *workspace.Root
	maxReadSize int64
}

func (fileToolBase) UserScoped() bool { return true }

// resolve opens username's sandbox and resolves path inside it.
func (b fileToolBase) resolve(username, path string) (*workspace.Workspace, string, error) {
	if username == "" {
		return nil, "", tools.NewValidationError("MISSING_USERNAME", "username is required", nil)
	}
	ws, err := b.root.ForUser(username)
	if err != nil {
		return nil, "", tools.NewPermissionError("INVALID_USERNAME", err.Error(), nil)
	}
	full, err := ws.ResolvePath(path)
	if err != nil {
		return nil, "", tools.NewPermissionError("PATH_OUTSIDE_SANDBOX", err.Error(),
			map[string]any{"path": path})
	}
	return ws, full, nil
}

func notFound(rel string) error {
	return tools.NewNotFoundError("FILE_NOT_FOUND", fmt.Sprintf("file not found: %s", rel),
		"call list_files to see what exists")
}

func statErr(rel string, err error) error {
	if os.IsNotExist(err) {
		return notFound(rel)
	}
	return fmt.Errorf("failed to access %s: %w", rel, err)
}

// splitLines splits on \n, dropping a trailing \r on each line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' {
			continue
		}
		end := i
		if end > start && s[end-1] == '\r' {
			end--
		}
		lines = append(lines, s[start:end])
		start = i + 1
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
