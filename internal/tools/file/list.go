package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aatumaykin/xavier/internal/tools"
)

type ListFilesTool struct {
	fileToolBase
}

type ListFilesArgs struct {
	Username  string `json:"username"`
	Path      string `json:"path,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories in your personal storage. Path defaults to the root."
}

func (t *ListFilesTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"path": map[string]any{
			"type":        "string",
			"description": "Directory relative to your storage root. Defaults to the root.",
		},
		"recursive": map[string]any{
			"type":        "boolean",
			"description": "List nested directories too.",
			"default":     false,
		},
	})
}

func (t *ListFilesTool) Execute(ctx context.Context, args string) (string, error) {
	var a ListFilesArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}

	ws, dir, err := t.resolve(a.Username, a.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", statErr(a.Path, err)
	}
	if !info.IsDir() {
		return "", tools.NewValidationError("NOT_A_DIRECTORY", fmt.Sprintf("not a directory: %s", a.Path), nil)
	}

	var entries []string
	if a.Recursive {
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if path == dir {
				return nil
			}
			entries = append(entries, formatEntry(ws.Rel(path), d.IsDir()))
			return nil
		})
	} else {
		var des []os.DirEntry
		des, err = os.ReadDir(dir)
		for _, d := range des {
			entries = append(entries, formatEntry(ws.Rel(filepath.Join(dir, d.Name())), d.IsDir()))
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	if len(entries) == 0 {
		return fmt.Sprintf("# Directory: %s\n# empty\n", displayPath(ws.Rel(dir))), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Directory: %s\n# %d items\n\n", displayPath(ws.Rel(dir)), len(entries))
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func formatEntry(rel string, dir bool) string {
	if dir {
		return "DIR  " + rel + "/"
	}
	return "FILE " + rel
}

func displayPath(rel string) string {
	if rel == "." || rel == "" {
		return "/"
	}
	return rel
}
