package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/retry"
)

// TriggerSink receives fires. Implementations must honour ctx.
type TriggerSink interface {
	Trigger(ctx context.Context, userID, text string) error
}

// TriggerFunc adapts a function to TriggerSink.
type TriggerFunc func(ctx context.Context, userID, text string) error

func (f TriggerFunc) Trigger(ctx context.Context, userID, text string) error {
	return f(ctx, userID, text)
}

// TriggerRequest is the body posted to the orchestration service.
type TriggerRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// StatusError is a non-2xx answer from the trigger endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("trigger returned status %d: %s", e.StatusCode, e.Body)
}

type HTTPSinkConfig struct {
	URL            string
	Timeout        time.Duration // per attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Client         *http.Client
}

// HTTPSink posts fires to the orchestration service's system trigger
// endpoint. 5xx answers and transport failures are retried with backoff;
// 4xx answers are not.
type HTTPSink struct {
	cfg    HTTPSinkConfig
	client *http.Client
	logger *logger.Logger
}

func NewHTTPSink(cfg HTTPSinkConfig, log *logger.Logger) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSink{cfg: cfg, client: client, logger: log}
}

func (s *HTTPSink) Trigger(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(TriggerRequest{UserID: userID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	_, err = retry.Do(ctx, retry.Config{
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialBackoff: s.cfg.InitialBackoff,
		MaxBackoff:     s.cfg.MaxBackoff,
		Logger:         s.logger,
		Name:           "system_trigger",
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	return err
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build trigger request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(statusErr)
	}
	return statusErr
}
