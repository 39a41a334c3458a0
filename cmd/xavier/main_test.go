package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/xavier/internal/api"
	"github.com/aatumaykin/xavier/internal/cron"
	"github.com/aatumaykin/xavier/internal/logger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"agent", "scheduler", "ask", "tasks", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "xavier "), out)
}

func TestConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	envFile := filepath.Join(dir, "missing.env")

	out, err := execute(t, "config", "init", "--config", path, "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", "--config", path, "--env-file", envFile)
	assert.Error(t, err, "init must not overwrite without --force")

	_, err = execute(t, "config", "init", "--force", "--config", path, "--env-file", envFile)
	require.NoError(t, err)

	out, err = execute(t, "config", "validate", "--config", path, "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")
	assert.Contains(t, out, "127.0.0.1:8001 -> http://127.0.0.1:8000/system_trigger")
}

func TestTasksCommands(t *testing.T) {
	log := logger.Discard()
	scheduler, err := cron.NewScheduler(cron.Config{
		Storage:  cron.NewStorage(t.TempDir(), log),
		Sink:     cron.TriggerFunc(func(ctx context.Context, userID, text string) error { return nil }),
		Logger:   log,
		Location: time.UTC,
	})
	require.NoError(t, err)
	history, err := cron.OpenHistory(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	srv := httptest.NewServer(api.NewSchedulerServer(api.SchedulerServerConfig{
		Scheduler: scheduler,
		History:   history,
		Logger:    log,
	}).Handler())
	t.Cleanup(srv.Close)

	out, err := execute(t, "tasks", "add", "--server", srv.URL, "--user", "alice", "0 9 * * *", "morning digest")
	require.NoError(t, err)
	assert.Contains(t, out, "Task added")

	views := scheduler.List()
	require.Len(t, views, 1)
	id := views[0].ID

	out, err = execute(t, "tasks", "list", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "morning digest")

	out, err = execute(t, "tasks", "runs", "--server", srv.URL, id)
	require.NoError(t, err)
	assert.Contains(t, out, "No fires yet.")

	out, err = execute(t, "tasks", "remove", "--server", srv.URL, id)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")
	assert.Empty(t, scheduler.List())

	_, err = execute(t, "tasks", "remove", "--server", srv.URL, id)
	assert.Error(t, err)

	_, err = execute(t, "tasks", "add", "--server", srv.URL, "--user", "alice", "bogus", "x")
	assert.Error(t, err)
}
