package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/tools"
	"github.com/aatumaykin/xavier/internal/workspace"
)

func setup(t *testing.T) (*tools.Registry, *workspace.Root) {
	t.Helper()
	root := workspace.NewRoot(t.TempDir())
	reg := tools.NewRegistry()
	require.NoError(t, Register(reg, root, 1<<20))
	return reg, root
}

func run(t *testing.T, reg *tools.Registry, name, args string) (string, error) {
	t.Helper()
	tool, ok := reg.Get(name)
	require.True(t, ok, "tool %s not registered", name)
	return tool.Execute(context.Background(), args)
}

func writeUserFile(t *testing.T, root *workspace.Root, user, rel, content string) {
	t.Helper()
	ws, err := root.ForUser(user)
	require.NoError(t, err)
	path := filepath.Join(ws.Path(), rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRegister_AllUserScoped(t *testing.T) {
	reg, _ := setup(t)

	assert.Equal(t, []string{"append_file", "delete_file", "list_files", "read_file", "write_file"}, reg.UserScopedNames())
	for _, def := range reg.Definitions() {
		props := def.Parameters["properties"].(map[string]any)
		assert.Contains(t, props, "username", def.Name)
	}
}

func TestReadFile(t *testing.T) {
	reg, root := setup(t)
	writeUserFile(t, root, "alice", "notes.txt", "one\r\ntwo\nthree")

	out, err := run(t, reg, "read_file", `{"username":"alice","path":"notes.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "# File: notes.txt (lines 1-3 of 3)\n000001| one\n000002| two\n000003| three\n", out)

	out, err = run(t, reg, "read_file", `{"username":"alice","path":"notes.txt","offset":1,"limit":1}`)
	require.NoError(t, err)
	assert.Equal(t, "# File: notes.txt (lines 2-2 of 3)\n000002| two\n", out)
}

func TestReadFile_ScopedToUser(t *testing.T) {
	reg, root := setup(t)
	writeUserFile(t, root, "bob", "secret.txt", "bob's secret")

	_, err := run(t, reg, "read_file", `{"username":"alice","path":"secret.txt"}`)
	var te *tools.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "FILE_NOT_FOUND", te.Code)

	_, err = run(t, reg, "read_file", `{"username":"alice","path":"../bob/secret.txt"}`)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "PATH_OUTSIDE_SANDBOX", te.Code)
}

func TestReadFile_MissingUsername(t *testing.T) {
	reg, _ := setup(t)

	_, err := run(t, reg, "read_file", `{"path":"a.txt"}`)
	var te *tools.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "MISSING_USERNAME", te.Code)
}

func TestWriteAppendDelete(t *testing.T) {
	reg, root := setup(t)

	out, err := run(t, reg, "write_file", `{"username":"alice","path":"todo/list.md","content":"- milk\n"}`)
	require.NoError(t, err)
	assert.Equal(t, "Wrote 7 bytes to todo/list.md", out)

	_, err = run(t, reg, "append_file", `{"username":"alice","path":"todo/list.md","content":"- eggs\n"}`)
	require.NoError(t, err)

	ws, err := root.ForUser("alice")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(ws.Path(), "todo", "list.md"))
	require.NoError(t, err)
	assert.Equal(t, "- milk\n- eggs\n", string(data))

	_, err = run(t, reg, "delete_file", `{"username":"alice","path":"todo"}`)
	var te *tools.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "DIRECTORY_NOT_EMPTY", te.Code)

	out, err = run(t, reg, "delete_file", `{"username":"alice","path":"todo","recursive":true}`)
	require.NoError(t, err)
	assert.Equal(t, "Deleted todo", out)
	assert.NoDirExists(t, filepath.Join(ws.Path(), "todo"))
}

func TestDeleteFile_RefusesRoot(t *testing.T) {
	reg, _ := setup(t)

	_, err := run(t, reg, "delete_file", `{"username":"alice","path":".","recursive":true}`)
	var te *tools.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ROOT_DELETE", te.Code)
}

func TestListFiles(t *testing.T) {
	reg, root := setup(t)
	writeUserFile(t, root, "alice", "a.txt", "a")
	writeUserFile(t, root, "alice", "docs/b.md", "b")

	out, err := run(t, reg, "list_files", `{"username":"alice"}`)
	require.NoError(t, err)
	assert.Equal(t, "# Directory: /\n# 2 items\n\nFILE a.txt\nDIR  docs/\n", out)

	out, err = run(t, reg, "list_files", `{"username":"alice","recursive":true}`)
	require.NoError(t, err)
	assert.Contains(t, out, "FILE docs/b.md")

	out, err = run(t, reg, "list_files", `{"username":"carol"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "# empty")
}

func TestUnknownArgumentRejected(t *testing.T) {
	reg, _ := setup(t)

	_, err := run(t, reg, "list_files", `{"username":"alice","depth":3}`)
	var te *tools.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "INVALID_ARGUMENTS", te.Code)
}
