package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_ForUser(t *testing.T) {
	root := NewRoot(t.TempDir())

	ws, err := root.ForUser("alice")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root.Path(), "alice"), ws.Path())
	assert.DirExists(t, ws.Path())
}

func TestValidateUsername(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../bob"} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateUsername(name), ErrInvalidUsername)
		})
	}
	assert.NoError(t, ValidateUsername("alice"))
	assert.NoError(t, ValidateUsername("user.name-01"))
}

func TestWorkspace_ResolvePath(t *testing.T) {
	root := NewRoot(t.TempDir())
	ws, err := root.ForUser("alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr bool
	}{
		{name: "simple", rel: "notes.txt", want: filepath.Join(ws.Path(), "notes.txt")},
		{name: "nested", rel: "a/b/c.md", want: filepath.Join(ws.Path(), "a", "b", "c.md")},
		{name: "root", rel: ".", want: ws.Path()},
		{name: "empty", rel: "", want: ws.Path()},
		{name: "dotdot", rel: "../bob/secret.txt", wantErr: true},
		{name: "inner dotdot", rel: "a/../../bob", wantErr: true},
		{name: "absolute", rel: "/etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.ResolvePath(tt.rel)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrEscape), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkspace_ResolvePath_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	root := NewRoot(filepath.Join(base, "files"))
	alice, err := root.ForUser("alice")
	require.NoError(t, err)
	bob, err := root.ForUser("bob")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(bob.Path(), "secret.txt"), []byte("s"), 0o600))

	require.NoError(t, os.Symlink(bob.Path(), filepath.Join(alice.Path(), "link")))

	_, err = alice.ResolvePath("link/secret.txt")
	assert.ErrorIs(t, err, ErrEscape)
}

func TestWorkspace_Rel(t *testing.T) {
	ws := &Workspace{path: "/data/files/alice"}
	assert.Equal(t, "notes/a.txt", ws.Rel("/data/files/alice/notes/a.txt"))
}
