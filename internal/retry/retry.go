// Package retry runs an operation with bounded attempts and exponential
// backoff. It is used for the scheduler's trigger delivery and for model
// calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aatumaykin/xavier/internal/logger"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 10 * time.Second
)

type Config struct {
	MaxAttempts    int           // total attempts including the first (default: 3)
	InitialBackoff time.Duration // delay after the first failure (default: 1s)
	MaxBackoff     time.Duration // cap for the exponential delay (default: 10s)

	// Logger is optional.
	Logger *logger.Logger
	// Name labels log lines.
	Name string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, unwrapPermanent(err)
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		backoff := Backoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff)
		if cfg.Logger != nil {
			cfg.Logger.DebugCtx(ctx, "retrying after failure",
				logger.Field{Key: "op", Value: cfg.Name},
				logger.Field{Key: "attempt", Value: attempt + 1},
				logger.Field{Key: "backoff", Value: backoff.String()},
				logger.Field{Key: "error", Value: err.Error()})
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do stops immediately. Do returns the
// underlying error, not the wrapper.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}

// IsRetryable classifies err. Typed signals win over message patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"401", "403", "400", "404", "unauthorized", "forbidden"} {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	for _, pattern := range []string{
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary",
		"429",
		"too many requests",
		"rate limit",
		"500", "502", "503", "504",
		"network",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Backoff returns initial * 2^attempt capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * initial
	if d > max || d <= 0 {
		return max
	}
	return d
}
