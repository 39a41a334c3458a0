// Package loop runs conversation turns: a bounded model/tool state machine
// over a user's durable history, in user mode (persisted) or system mode
// (side effects only).
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

var (
	// ErrLoopBoundExceeded means the model kept requesting tools past the
	// configured number of rounds. Nothing is persisted for such a turn.
	ErrLoopBoundExceeded = errors.New("tool-calling loop exceeded iteration bound")
	ErrEmptyUserID       = errors.New("user id is required")
	ErrEmptyInput        = errors.New("text is required")
	ErrShuttingDown      = errors.New("engine is shutting down")
)

const (
	DefaultMaxToolIterations = 10
	DefaultToolTimeout       = 30 * time.Second
	DefaultSystemTurnTimeout = 5 * time.Minute
)

// History is the durable per-user thread the engine reads and appends to.
type History interface {
	Load(ctx context.Context, userID string) ([]llm.Message, error)
	Append(ctx context.Context, userID string, msgs ...llm.Message) error
}

type Config struct {
	Provider          llm.Provider
	History           History
	Tools             *tools.Registry
	Logger            *logger.Logger
	Metrics           *metrics.Metrics
	MaxToolIterations int
	ToolTimeout       time.Duration
	SystemTurnTimeout time.Duration
	SystemPreamble    string
}

// Engine is built once at startup; its configuration is read-only afterwards.
type Engine struct {
	provider          llm.Provider
	history           History
	tools             *tools.Registry
	router            *Router
	logger            *logger.Logger
	metrics           *metrics.Metrics
	maxToolIterations int
	systemTurnTimeout time.Duration
	basePrompt        string
	systemPreamble    string

	queue *turnQueue

	// background system turns
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopping bool
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("LLM provider cannot be nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("conversation history cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.SystemTurnTimeout <= 0 {
		cfg.SystemTurnTimeout = DefaultSystemTurnTimeout
	}
	if cfg.SystemPreamble == "" {
		cfg.SystemPreamble = DefaultSystemPreamble
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	return &Engine{
		provider:          cfg.Provider,
		history:           cfg.History,
		tools:             cfg.Tools,
		router:            NewRouter(cfg.Tools, cfg.ToolTimeout, cfg.Logger, cfg.Metrics),
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		maxToolIterations: cfg.MaxToolIterations,
		systemTurnTimeout: cfg.SystemTurnTimeout,
		basePrompt:        buildBasePrompt(cfg.Tools),
		systemPreamble:    cfg.SystemPreamble,
		queue:             newTurnQueue(),
		baseCtx:           baseCtx,
		cancel:            cancel,
	}, nil
}

// Ask runs a user turn. On success the user message, every intermediate
// assistant and tool message, and the final answer are appended in one batch.
// A failed turn appends nothing.
func (e *Engine) Ask(ctx context.Context, userID, text string) (string, error) {
	if text == "" {
		return "", ErrEmptyInput
	}
	return e.runTurn(ctx, &Turn{UserID: userID, Source: SourceUser, Input: text})
}

// SystemTrigger runs a system turn for userID. The history is read but never
// written.
func (e *Engine) SystemTrigger(ctx context.Context, userID, text string) (string, error) {
	return e.runTurn(ctx, &Turn{UserID: userID, Source: SourceSystem, Input: text})
}

// Dispatch starts a system turn in the background and returns immediately.
// The turn is bounded by the system turn timeout and awaited by Shutdown.
func (e *Engine) Dispatch(userID, text string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.baseCtx, e.systemTurnTimeout)
		defer cancel()

		answer, err := e.SystemTrigger(ctx, userID, text)
		if err != nil {
			e.logger.ErrorCtx(ctx, "system turn failed", err,
				logger.Field{Key: "user_id", Value: userID})
			return
		}
		e.logger.InfoCtx(ctx, "system turn completed",
			logger.Field{Key: "user_id", Value: userID},
			logger.Field{Key: "response", Value: answer})
	}()

	return nil
}

// Shutdown stops accepting dispatches and waits for background turns. When
// ctx ends first the remaining turns are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) runTurn(ctx context.Context, turn *Turn) (answer string, err error) {
	if turn.UserID == "" {
		return "", ErrEmptyUserID
	}

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordTurn(string(turn.Source), status, time.Since(start))
	}()

	release, err := e.queue.acquire(ctx, turn.UserID)
	if err != nil {
		return "", fmt.Errorf("waiting for previous turn: %w", err)
	}
	defer release()

	history, err := e.history.Load(ctx, turn.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}

	var input llm.Message
	turn.window = append(turn.window, llm.Message{Role: llm.RoleSystem, Content: e.basePrompt})
	switch turn.Source {
	case SourceSystem:
		turn.window = append(turn.window, llm.Message{Role: llm.RoleSystem, Content: e.systemPreamble})
		input = llm.Message{Role: llm.RoleUser, Content: systemInstruction(turn.Input)}
	default:
		input = llm.Message{Role: llm.RoleUser, Content: turn.Input}
	}
	turn.window = append(turn.window, history...)
	turn.push(input)

	e.logger.DebugCtx(ctx, "turn started",
		logger.Field{Key: "user_id", Value: turn.UserID},
		logger.Field{Key: "mode", Value: turn.Source},
		logger.Field{Key: "history", Value: len(history)})

	answer, err = e.run(ctx, turn)
	if err != nil {
		return "", err
	}

	if turn.Source == SourceUser {
		if err := e.history.Append(ctx, turn.UserID, turn.produced...); err != nil {
			return "", fmt.Errorf("failed to persist turn: %w", err)
		}
	}

	e.logger.InfoCtx(ctx, "turn completed",
		logger.Field{Key: "user_id", Value: turn.UserID},
		logger.Field{Key: "mode", Value: turn.Source},
		logger.Field{Key: "messages", Value: len(turn.produced)},
		logger.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})

	return answer, nil
}

// run drives the state machine until the model stops asking for tools.
func (e *Engine) run(ctx context.Context, turn *Turn) (string, error) {
	defs := e.tools.Definitions()
	st := stateModelCall
	rounds := 0
	var reply llm.Message

	for {
		switch st {
		case stateModelCall:
			resp, err := e.provider.Chat(ctx, llm.ChatRequest{
				Messages: turn.window,
				Tools:    defs,
			})
			if err != nil {
				return "", fmt.Errorf("LLM call failed: %w", err)
			}
			reply = resp.Message()
			turn.push(reply)
			st = e.router.Route(reply)

		case stateToolExec:
			if rounds >= e.maxToolIterations {
				e.logger.ErrorCtx(ctx, "maximum tool call iterations reached", ErrLoopBoundExceeded,
					logger.Field{Key: "user_id", Value: turn.UserID},
					logger.Field{Key: "iterations", Value: rounds})
				return "", fmt.Errorf("%w (%d)", ErrLoopBoundExceeded, e.maxToolIterations)
			}
			rounds++
			turn.push(e.router.Execute(ctx, turn, reply.ToolCalls)...)
			st = stateModelCall

		case stateDone:
			return reply.Content, nil

		default:
			return "", fmt.Errorf("invalid turn state %s", st)
		}
	}
}
