package tools

import (
	"context"
	"fmt"
	"time"
)

// SystemTimeTool reports the current time, which the model needs to turn
// "tomorrow at nine" into a cron expression.
type SystemTimeTool struct {
	loc *time.Location
	now func() time.Time
}

func NewSystemTimeTool(loc *time.Location) *SystemTimeTool {
	if loc == nil {
		loc = time.Local
	}
	return &SystemTimeTool{loc: loc, now: time.Now}
}

func (t *SystemTimeTool) Name() string { return "system_time" }

func (t *SystemTimeTool) Description() string {
	return "Returns the current date, time, weekday and timezone."
}

func (t *SystemTimeTool) Parameters() map[string]any {
	return Schema(map[string]any{})
}

func (t *SystemTimeTool) Execute(ctx context.Context, args string) (string, error) {
	var empty struct{}
	if err := ParseArgs(args, &empty); err != nil {
		return "", err
	}
	now := t.now().In(t.loc)
	return fmt.Sprintf("RFC3339: %s\nHuman readable: %s\nTimezone: %s",
		now.Format(time.RFC3339),
		now.Format("Monday, 02 January 2006, 15:04:05"),
		t.loc.String()), nil
}
