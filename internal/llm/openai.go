package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/retry"
)

const (
	DefaultBaseURL = "https://api.deepseek.com"
	DefaultModel   = "deepseek-chat"

	defaultTimeout = 60 * time.Second
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// RateLimiter is optional.
	RateLimiter *TokenBucketRateLimiter
}

// OpenAIProvider talks to any /chat/completions endpoint that follows the
// OpenAI wire format (DeepSeek, OpenAI, vLLM, Ollama's compatibility layer).
type OpenAIProvider struct {
	client *http.Client
	cfg    OpenAIConfig
	url    string
	logger *logger.Logger
}

func NewOpenAIProvider(cfg OpenAIConfig, log *logger.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	url := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(url, "/chat/completions") {
		url += "/chat/completions"
	}

	return &OpenAIProvider{
		client: &http.Client{},
		cfg:    cfg,
		url:    url,
		logger: log,
	}
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role             string         `json:"role"`
	Content          string         `json:"content"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// HTTPError is a non-2xx answer from the endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Body)
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.cfg.Model
	}
	if req.Temperature == 0 {
		req.Temperature = p.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.cfg.MaxTokens
	}

	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p.logger.DebugCtx(ctx, "sending chat request",
		logger.Field{Key: "model", Value: req.Model},
		logger.Field{Key: "messages", Value: len(req.Messages)},
		logger.Field{Key: "tools", Value: len(req.Tools)})

	rcfg := retry.Config{
		MaxAttempts:    p.cfg.MaxRetries + 1,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
		Logger:         p.logger,
		Name:           "llm.chat",
	}
	resp, err := retry.Do(ctx, rcfg, func(ctx context.Context) (*wireResponse, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		}
		return nil, err
	}

	return p.fromWireResponse(ctx, resp)
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body []byte) (*wireResponse, error) {
	if p.cfg.RateLimiter != nil {
		if err := p.cfg.RateLimiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		p.logger.WarnCtx(ctx, "chat endpoint returned error status",
			logger.Field{Key: "status_code", Value: httpResp.StatusCode},
			logger.Field{Key: "response_body", Value: truncate(string(respBody), 512)})
		httpErr := &HTTPError{StatusCode: httpResp.StatusCode, Body: truncate(string(respBody), 512)}
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			return nil, httpErr
		}
		return nil, retry.Permanent(httpErr)
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if parsed.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("llm: API error %s: %s", parsed.Error.Type, parsed.Error.Message))
	}
	return &parsed, nil
}

func toWireRequest(req ChatRequest) wireRequest {
	out := wireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]wireMessage, len(req.Messages)),
	}

	for i, msg := range req.Messages {
		wm := wireMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out.Messages[i] = wm
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]wireTool, len(req.Tools))
		for i, tool := range req.Tools {
			out.Tools[i] = wireTool{
				Type: "function",
				Function: wireFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			}
		}
		out.ToolChoice = "auto"
	}

	return out
}

func (p *OpenAIProvider) fromWireResponse(ctx context.Context, resp *wireResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		p.logger.WarnCtx(ctx, "chat response has no choices", logger.Field{Key: "model", Value: resp.Model})
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]

	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	content := choice.Message.Content
	if content == "" && len(calls) == 0 {
		content = choice.Message.ReasoningContent
	}

	p.logger.DebugCtx(ctx, "chat response",
		logger.Field{Key: "model", Value: resp.Model},
		logger.Field{Key: "finish_reason", Value: choice.FinishReason},
		logger.Field{Key: "tool_calls", Value: len(calls)},
		logger.Field{Key: "total_tokens", Value: resp.Usage.TotalTokens})

	return &ChatResponse{
		Content:      content,
		FinishReason: FinishReason(choice.FinishReason),
		ToolCalls:    calls,
		Usage:        resp.Usage,
		Model:        resp.Model,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
