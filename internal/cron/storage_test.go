package cron

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/logger"
)

func TestStorage_MissingFileIsEmpty(t *testing.T) {
	s := NewStorage(filepath.Join(t.TempDir(), "cron"), logger.Discard())

	tasks, err := s.GetAll()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestStorage_PutGetDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cron")
	s := NewStorage(dir, logger.Discard())
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(Task{ID: "aaaa1111", UserID: "alice", Cron: "0 9 * * *", Text: "summary", CreatedAt: created}))
	require.NoError(t, s.Put(Task{ID: "bbbb2222", UserID: "bob", Cron: "*/5 * * * *", Text: "ping", CreatedAt: created}))

	tasks, err := NewStorage(dir, logger.Discard()).GetAll()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "alice", tasks["aaaa1111"].UserID)
	assert.True(t, created.Equal(tasks["aaaa1111"].CreatedAt))

	require.NoError(t, s.Delete("aaaa1111"))
	assert.ErrorIs(t, s.Delete("aaaa1111"), ErrTaskNotFound)

	tasks, err = s.GetAll()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.NoFileExists(t, s.Path()+".tmp")

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task_id":"bbbb2222"`)
}

func TestStorage_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"task_id":"aaaa1111","user_id":"alice","cron":"0 9 * * *","text":"a"}
garbage
{"user_id":"nobody"}

{"task_id":"bbbb2222","user_id":"bob","cron":"0 10 * * *","text":"b"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, TasksFilename), []byte(content), 0o644))

	tasks, err := NewStorage(dir, logger.Discard()).GetAll()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Contains(t, tasks, "aaaa1111")
	assert.Contains(t, tasks, "bbbb2222")
}

func TestStorage_LongLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStorage(dir, logger.Discard())

	require.NoError(t, s.Put(Task{ID: "aaaa1111", UserID: "alice", Cron: "0 9 * * *", Text: strings.Repeat("x", 100000)}))
	require.NoError(t, s.Put(Task{ID: "bbbb2222", UserID: "bob", Cron: "0 10 * * *", Text: "b"}))
	require.NoError(t, s.Delete("bbbb2222"))

	tasks, err := NewStorage(dir, logger.Discard()).GetAll()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Len(t, tasks["aaaa1111"].Text, 100000)
}
