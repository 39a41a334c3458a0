// Package tools holds the tool contract, the registry the engine declares to
// the model, and the execution wrapper that turns every failure into text the
// model can read.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aatumaykin/xavier/internal/llm"
)

// UsernameArg is the argument name forced to the caller's identity on
// user-scoped tools.
const UsernameArg = "username"

// Tool is a capability the model may request by name.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON Schema object for the arguments.
	Parameters() map[string]any
	// Execute runs the tool. args is the raw JSON object from the model.
	Execute(ctx context.Context, args string) (string, error)
}

// UserScoped is implemented by tools whose arguments identify the acting
// user. The engine overwrites their username argument before execution.
type UserScoped interface {
	UserScoped() bool
}

// IsUserScoped reports whether t addresses per-user state.
func IsUserScoped(t Tool) bool {
	us, ok := t.(UserScoped)
	return ok && us.UserScoped()
}

// Registry is the fixed set of tools declared to the model. It is filled at
// startup and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool. Names must be unique.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions converts the registry into model-facing declarations, in a
// stable order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.List()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// UserScopedNames lists the names of user-scoped tools.
func (r *Registry) UserScopedNames() []string {
	var names []string
	for _, t := range r.List() {
		if IsUserScoped(t) {
			names = append(names, t.Name())
		}
	}
	return names
}

// ToJSON renders the declarations, for `xavier tools` style debugging.
func (r *Registry) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r.Definitions(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schemas: %w", err)
	}
	return string(data), nil
}

// Result is the outcome of one tool call.
type Result struct {
	ToolCallID string
	Content    string
	Err        error
	TimedOut   bool
	Duration   time.Duration
}

// Execute runs tool with a timeout. A panic inside the tool is recovered and
// reported as an error. A timed-out tool keeps running in the background
// until it observes ctx; its late result is discarded.
func Execute(ctx context.Context, tool Tool, callID, args string, timeout time.Duration) Result {
	start := time.Now()

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		content, err := tool.Execute(execCtx, args)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		return Result{ToolCallID: callID, Content: out.content, Err: out.err, Duration: time.Since(start)}
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return Result{
				ToolCallID: callID,
				Err:        NewTimeoutError("TOOL_TIMEOUT", fmt.Sprintf("tool %s timed out after %v", tool.Name(), timeout)),
				TimedOut:   true,
				Duration:   time.Since(start),
			}
		}
		return Result{ToolCallID: callID, Err: fmt.Errorf("tool execution cancelled: %w", execCtx.Err()), Duration: time.Since(start)}
	}
}
