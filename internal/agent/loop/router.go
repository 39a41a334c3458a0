package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/xavier/internal/llm"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
	"github.com/aatumaykin/xavier/internal/tools"
)

// Router decides where a turn goes after a model reply and runs the tool
// calls it asked for.
type Router struct {
	tools   *tools.Registry
	timeout time.Duration
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRouter(registry *tools.Registry, timeout time.Duration, log *logger.Logger, m *metrics.Metrics) *Router {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Router{
		tools:   registry,
		timeout: timeout,
		logger:  log,
		metrics: m,
	}
}

// Route returns stateToolExec when msg requests tools, stateDone otherwise.
func (r *Router) Route(msg llm.Message) state {
	if len(msg.ToolCalls) > 0 {
		return stateToolExec
	}
	return stateDone
}

// Execute runs calls concurrently and returns one tool message per call in
// request order. It never fails: every problem becomes an "error: ..." body.
func (r *Router) Execute(ctx context.Context, turn *Turn, calls []llm.ToolCall) []llm.Message {
	out := make([]llm.Message, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			out[i] = llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    r.executeOne(ctx, turn, call),
			}
		}(i, call)
	}
	wg.Wait()

	return out
}

func (r *Router) executeOne(ctx context.Context, turn *Turn, call llm.ToolCall) string {
	fields := []logger.Field{
		{Key: "user_id", Value: turn.UserID},
		{Key: "tool_name", Value: call.Name},
		{Key: "tool_call_id", Value: call.ID},
	}

	tool, ok := r.tools.Get(call.Name)
	if !ok {
		err := tools.NewNotFoundError("UNKNOWN_TOOL", fmt.Sprintf("unknown tool: %s", call.Name), "use one of the declared tools")
		r.logger.WarnCtx(ctx, "model requested unknown tool", fields...)
		r.metrics.RecordToolCall(call.Name, "unknown")
		return tools.ErrorContent(err)
	}

	args := call.Arguments
	if tools.IsUserScoped(tool) {
		forced, err := tools.ForceArg(args, tools.UsernameArg, turn.UserID)
		if err != nil {
			r.logger.WarnCtx(ctx, "invalid tool arguments", append(fields, logger.Field{Key: "error", Value: err.Error()})...)
			r.metrics.RecordToolCall(call.Name, "error")
			return tools.ErrorContent(err)
		}
		args = forced
	}

	r.logger.DebugCtx(ctx, "executing tool", fields...)
	res := tools.Execute(ctx, tool, call.ID, args, r.timeout)
	fields = append(fields, logger.Field{Key: "duration_ms", Value: res.Duration.Milliseconds()})

	if res.Err != nil {
		status := "error"
		if res.TimedOut {
			status = "timeout"
		}
		var te *tools.ToolError
		if errors.As(res.Err, &te) {
			fields = append(fields, te.LogFields()...)
		}
		r.logger.ErrorCtx(ctx, "tool execution failed", res.Err,
			append(fields, logger.Field{Key: "timed_out", Value: res.TimedOut})...)
		r.metrics.RecordToolCall(call.Name, status)
		return tools.ErrorContent(res.Err)
	}

	r.logger.DebugCtx(ctx, "tool execution completed", fields...)
	r.metrics.RecordToolCall(call.Name, "success")
	return res.Content
}
