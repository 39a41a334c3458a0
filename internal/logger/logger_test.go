package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "json stdout", cfg: Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "text stderr", cfg: Config{Level: "info", Format: "text", Output: "stderr"}},
		{name: "file", cfg: Config{Level: "warn", Format: "json", Output: filepath.Join(t.TempDir(), "logs", "x.log")}},
		{name: "bad level", cfg: Config{Level: "loud", Format: "json", Output: "stdout"}, wantErr: true},
		{name: "bad format", cfg: Config{Level: "info", Format: "xml", Output: "stdout"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestLogger_ErrorCarriesErrorField(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(buf, Config{Level: "debug", Format: "json"})
	require.NoError(t, err)

	l.Error("store write failed", errors.New("disk full"), Field{Key: "file", Value: "tasks.jsonl"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "store write failed", rec["msg"])
	assert.Equal(t, "disk full", rec["error"])
	assert.Equal(t, "tasks.jsonl", rec["file"])
}

func TestLogger_LevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(buf, Config{Level: "warn", Format: "text"})
	require.NoError(t, err)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := NewWithWriter(buf, Config{Level: "info", Format: "json"})
	require.NoError(t, err)

	l.With(Field{Key: "user_id", Value: "alice"}).Info("turn done")

	assert.Contains(t, buf.String(), `"user_id":"alice"`)
}
