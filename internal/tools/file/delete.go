package file

import (
	"context"
	"fmt"
	"os"

	"github.com/aatumaykin/xavier/internal/tools"
)

type DeleteFileTool struct {
	fileToolBase
}

type DeleteFileArgs struct {
	Username  string `json:"username"`
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (t *DeleteFileTool) Name() string { return "delete_file" }

func (t *DeleteFileTool) Description() string {
	return "Delete a file or directory from your personal storage. Non-empty directories need recursive=true."
}

func (t *DeleteFileTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"path": map[string]any{
			"type":        "string",
			"description": "Path relative to your storage root.",
		},
		"recursive": map[string]any{
			"type":        "boolean",
			"description": "Delete a directory and everything inside it.",
			"default":     false,
		},
	}, "path")
}

func (t *DeleteFileTool) Execute(ctx context.Context, args string) (string, error) {
	var a DeleteFileArgs
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
		return "", tools.NewPermissionError("ROOT_DELETE", "refusing to delete the storage root", nil)
	}

	info, err := os.Lstat(full)
	if err != nil {
		return "", statErr(a.Path, err)
	}

	switch {
	case info.IsDir() && a.Recursive:
		err = os.RemoveAll(full)
	case info.IsDir():
		entries, rerr := os.ReadDir(full)
		if rerr != nil {
			return "", fmt.Errorf("failed to check directory: %w", rerr)
		}
		if len(entries) > 0 {
			return "", tools.NewValidationError("DIRECTORY_NOT_EMPTY",
				fmt.Sprintf("directory is not empty: %s", a.Path), map[string]any{"entries": len(entries)})
		}
		err = os.Remove(full)
	default:
		err = os.Remove(full)
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete %s: %w", a.Path, err)
	}

	return fmt.Sprintf("Deleted %s", ws.Rel(full)), nil
}
