package cron

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FireStatus is the lifecycle state of one fire.
type FireStatus string

const (
	FireRunning   FireStatus = "running"
	FireSucceeded FireStatus = "succeeded"
	FireFailed    FireStatus = "failed"
	FireDropped   FireStatus = "dropped"
)

// DefaultRunsLimit is how many fires Recent returns when limit is not set.
const DefaultRunsLimit = 50

// Run is one recorded fire of a task.
type Run struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	UserID      string     `json:"user_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      FireStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// History is an append-mostly SQLite log of fires. Safe for concurrent use.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the fire history at path.
// ":memory:" gives a throwaway database.
func OpenHistory(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writes.
	db.SetMaxOpenConns(1)

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return h, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) migrate() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS fires (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		finished_at  TEXT,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_fires_task_started ON fires(task_id, started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Start records a fire that is about to run and returns its id.
func (h *History) Start(ctx context.Context, taskID, userID string, scheduledAt, startedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO fires (id, task_id, user_id, scheduled_at, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, taskID, userID, formatTime(scheduledAt), formatTime(startedAt), string(FireRunning))
	if err != nil {
		return "", fmt.Errorf("insert fire: %w", err)
	}
	return id, nil
}

// Finish closes a fire started with Start.
func (h *History) Finish(ctx context.Context, id string, status FireStatus, finishedAt time.Time, errMsg string) error {
	res, err := h.db.ExecContext(ctx, `
		UPDATE fires SET status = ?, finished_at = ?, error = ? WHERE id = ?
	`, string(status), formatTime(finishedAt), errMsg, id)
	if err != nil {
		return fmt.Errorf("update fire: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update fire: no fire with id %s", id)
	}
	return nil
}

// Dropped records a fire that never ran because the worker queue was full.
func (h *History) Dropped(ctx context.Context, taskID, userID string, scheduledAt, at time.Time, reason string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO fires (id, task_id, user_id, scheduled_at, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), taskID, userID, formatTime(scheduledAt), formatTime(at), formatTime(at), string(FireDropped), reason)
	if err != nil {
		return fmt.Errorf("insert dropped fire: %w", err)
	}
	return nil
}

// Recent returns the latest fires of taskID, newest first.
func (h *History) Recent(ctx context.Context, taskID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, scheduled_at, started_at, finished_at, status, error
		FROM fires WHERE task_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fires: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r                  Run
			scheduled, started string
			finished           sql.NullString
			status             string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.UserID, &scheduled, &started, &finished, &status, &r.Error); err != nil {
			return nil, fmt.Errorf("scan fire: %w", err)
		}
		r.Status = FireStatus(status)
		r.ScheduledAt = parseTime(scheduled)
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
