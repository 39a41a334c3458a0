// Package cron persists scheduled tasks and fires them at wall-clock
// instants described by standard five-field cron expressions.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var ErrTaskNotFound = errors.New("task not found")

// MaxTextLength bounds the trigger text of a task, in bytes.
const MaxTextLength = 16 * 1024

// Task is a persisted schedule. Tasks are never updated in place.
type Task struct {
	ID        string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Cron      string    `json:"cron"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskView is a task together with its next fire time.
type TaskView struct {
	ID      string    `json:"task_id"`
	UserID  string    `json:"user_id"`
	Cron    string    `json:"cron"`
	Text    string    `json:"text"`
	NextRun time.Time `json:"next_run"`
}

// ValidationError rejects a request before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseSpec parses a standard cron expression: minute, hour, day of month,
// month and day of week, with ranges, steps, lists and names. When both day
// fields are restricted a time matches if either does. A CRON_TZ= prefix
// selects the time zone. Descriptors such as @hourly or @every are rejected,
// as are expressions that never match a real date.
func ParseSpec(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &ValidationError{Field: "cron", Reason: "empty expression"}
	}
	if strings.HasPrefix(withoutZone(spec), "@") {
		return nil, &ValidationError{Field: "cron", Reason: "descriptors are not supported, use five fields"}
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, &ValidationError{Field: "cron", Reason: err.Error()}
	}
	if schedule.Next(time.Now()).IsZero() {
		return nil, &ValidationError{Field: "cron", Reason: "expression never matches"}
	}
	return schedule, nil
}

func withoutZone(spec string) string {
	if !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		return spec
	}
	_, rest, _ := strings.Cut(spec, " ")
	return strings.TrimSpace(rest)
}

// NewTaskID returns an 8-character lowercase hex token. taken reports ids
// already in use; a collision draws again.
func NewTaskID(taken func(string) bool) string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if taken == nil || !taken(id) {
			return id
		}
	}
}
