// Package workspace maps user identities onto isolated directories under a
// shared root and resolves model-supplied paths inside them.
//
//	root := workspace.NewRoot(cfg.Data.FilesDir())
//	ws, err := root.ForUser("alice")   // <files>/alice
//	path, err := ws.ResolvePath("notes/today.md")
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrEscape          = errors.New("path escapes workspace")
)

// Root is the parent of every per-user workspace.
type Root struct {
	path string
}

func NewRoot(path string) *Root {
	return &Root{path: filepath.Clean(path)}
}

func (r *Root) Path() string {
	return r.path
}

// ForUser returns the workspace for username, creating its directory.
func (r *Root) ForUser(username string) (*Workspace, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	ws := &Workspace{path: filepath.Join(r.path, username)}
	if err := ws.EnsureDir(); err != nil {
		return nil, err
	}
	return ws, nil
}

// ValidateUsername rejects identities that cannot be used as a single
// directory name.
func ValidateUsername(username string) error {
	switch {
	case username == "", username == ".", username == "..":
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	case strings.ContainsAny(username, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidUsername, username)
	case len(username) > 128:
		return fmt.Errorf("%w: too long", ErrInvalidUsername)
	}
	return nil
}

// Workspace is a single user's sandbox directory.
type Workspace struct {
	path string
}

func (w *Workspace) Path() string {
	return w.path
}

func (w *Workspace) EnsureDir() error {
	if w.path == "" {
		return fmt.Errorf("workspace path is empty")
	}
	info, err := os.Stat(w.path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("workspace path exists but is not a directory: %s", w.path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to access workspace path %s: %w", w.path, err)
	}
	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory %s: %w", w.path, err)
	}
	return nil
}

// ResolvePath joins rel onto the workspace and rejects anything that would
// land outside it, including through symlinks. An empty rel or "." resolves
// to the workspace itself.
func (w *Workspace) ResolvePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute paths are not allowed: %s", ErrEscape, rel)
	}

	clean := filepath.Clean("/" + rel)
	joined := filepath.Join(w.path, clean)
	if !within(w.path, joined) {
		return "", fmt.Errorf("%w: %s", ErrEscape, rel)
	}
	if strings.Contains(filepath.ToSlash(rel), "../") || rel == ".." || strings.HasSuffix(rel, "/..") {
		return "", fmt.Errorf("%w: %s", ErrEscape, rel)
	}

	real, err := resolveExisting(joined)
	if err != nil {
		return "", err
	}
	base, err := filepath.EvalSymlinks(w.path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if !within(base, real) {
		return "", fmt.Errorf("%w: %s resolves outside the workspace", ErrEscape, rel)
	}

	return joined, nil
}

// Rel returns path relative to the workspace, for display.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.path, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	tail := ""
	cur := path
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(real, tail), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve %s: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = filepath.Join(filepath.Base(cur), tail)
		cur = parent
	}
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
