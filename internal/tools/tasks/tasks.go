// Package tasks lets the model manage the caller's scheduled tasks through the
// scheduler service. All three tools are user-scoped: a user only ever sees
// and deletes their own tasks.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aatumaykin/xavier/internal/cron"
	"github.com/aatumaykin/xavier/internal/tools"
)

// Client is the scheduler API used by the tools. *api.SchedulerClient
// satisfies it.
type Client interface {
	CreateTask(ctx context.Context, userID, spec, text string) (cron.TaskView, error)
	ListTasks(ctx context.Context, userID string) ([]cron.TaskView, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Register adds create_task, list_tasks and delete_task to reg.
func Register(reg *tools.Registry, client Client) error {
	base := taskToolBase{client: client}
	for _, t := range []tools.Tool{
		&CreateTaskTool{base},
		&ListTasksTool{base},
		&DeleteTaskTool{base},
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type taskToolBase struct {
	client Client
}

func (taskToolBase) UserScoped() bool { return true }

func requireUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return tools.NewValidationError("MISSING_USERNAME", "username is required", nil)
	}
	return nil
}

type CreateTaskTool struct {
	taskToolBase
}

type CreateTaskArgs struct {
	Username string `json:"username"`
	Cron     string `json:"cron"`
	Text     string `json:"text"`
}

func (t *CreateTaskTool) Name() string { return "create_task" }

func (t *CreateTaskTool) Description() string {
	return "Schedule a recurring instruction. At every tick of the cron expression you receive the text as an instruction to execute.\n" +
		"Cron uses five fields: minute hour day-of-month month day-of-week. Call system_time first when the schedule is relative to now."
}

func (t *CreateTaskTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"cron": map[string]any{
			"type":        "string",
			"description": `Five-field cron expression, for example "0 9 * * 1-5" for weekdays at 09:00.`,
		},
		"text": map[string]any{
			"type":        "string",
			"description": "Instruction to execute at every fire.",
		},
	}, "cron", "text")
}

func (t *CreateTaskTool) Execute(ctx context.Context, args string) (string, error) {
	var a CreateTaskArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if err := requireUsername(a.Username); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.Cron) == "" {
		return "", tools.NewValidationError("MISSING_CRON", "cron is required", nil)
	}
	if strings.TrimSpace(a.Text) == "" {
		return "", tools.NewValidationError("MISSING_TEXT", "text is required", nil)
	}

	view, err := t.client.CreateTask(ctx, a.Username, a.Cron, a.Text)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return fmt.Sprintf("Task %s created. Cron: %s. Next run: %s.",
		view.ID, view.Cron, view.NextRun.Format(time.RFC3339)), nil
}

type ListTasksTool struct {
	taskToolBase
}

type ListTasksArgs struct {
	Username string `json:"username"`
}

func (t *ListTasksTool) Name() string { return "list_tasks" }

func (t *ListTasksTool) Description() string {
	return "List your scheduled tasks with their cron expression and next run time."
}

func (t *ListTasksTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
	})
}

func (t *ListTasksTool) Execute(ctx context.Context, args string) (string, error) {
	var a ListTasksArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if err := requireUsername(a.Username); err != nil {
		return "", err
	}

	views, err := t.client.ListTasks(ctx, a.Username)
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}
	views = owned(views, a.Username)
	if len(views) == 0 {
		return "No scheduled tasks.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d scheduled task(s):\n", len(views))
	for _, v := range views {
		fmt.Fprintf(&b, "- %s | %s | next %s | %s\n", v.ID, v.Cron, v.NextRun.Format(time.RFC3339), v.Text)
	}
	return b.String(), nil
}

type DeleteTaskTool struct {
	taskToolBase
}

type DeleteTaskArgs struct {
	Username string `json:"username"`
	TaskID   string `json:"task_id"`
}

func (t *DeleteTaskTool) Name() string { return "delete_task" }

func (t *DeleteTaskTool) Description() string {
	return "Delete one of your scheduled tasks by id. Call list_tasks to find the id."
}

func (t *DeleteTaskTool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"username": tools.UsernameProperty(),
		"task_id": map[string]any{
			"type":        "string",
			"description": "Id returned by create_task or list_tasks.",
		},
	}, "task_id")
}

func (t *DeleteTaskTool) Execute(ctx context.Context, args string) (string, error) {
	var a DeleteTaskArgs
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if err := requireUsername(a.Username); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.TaskID) == "" {
		return "", tools.NewValidationError("MISSING_TASK_ID", "task_id is required", nil)
	}

	views, err := t.client.ListTasks(ctx, a.Username)
	if err != nil {
		return "", fmt.Errorf("failed to list tasks: %w", err)
	}
	found := false
	for _, v := range owned(views, a.Username) {
		if v.ID == a.TaskID {
			found = true
			break
		}
	}
	// someone else's task looks exactly like a missing one
	if !found {
		return "", tools.NewNotFoundError("TASK_NOT_FOUND", fmt.Sprintf("task not found: %s", a.TaskID),
			"call list_tasks to see your tasks")
	}

	if err := t.client.DeleteTask(ctx, a.TaskID); err != nil {
		return "", fmt.Errorf("failed to delete task: %w", err)
	}
	return fmt.Sprintf("Task %s deleted.", a.TaskID), nil
}

func owned(views []cron.TaskView, username string) []cron.TaskView {
	out := views[:0:0]
	for _, v := range views {
		if v.UserID == username {
			out = append(out, v)
		}
	}
	return out
}
