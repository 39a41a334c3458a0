package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate reports every problem found, not just the first.
func (c *Config) Validate() []error {
	var errs []error

	if c.Data.Dir == "" {
		errs = append(errs, fmt.Errorf("data.dir is required"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	if err := validateURL(c.LLM.BaseURL, "llm.base_url"); err != nil {
		errs = append(errs, err)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2 (got %.2f)", c.LLM.Temperature))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0"))
	}

	if c.Agent.MaxToolIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_tool_iterations must be >= 1"))
	}

	if err := validateURL(c.Scheduler.TriggerURL, "scheduler.trigger_url"); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.TriggerTimeoutSeconds < 1 || c.Scheduler.TriggerTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("scheduler.trigger_timeout_seconds must be between 1 and 120 (got %d)", c.Scheduler.TriggerTimeoutSeconds))
	}
	if c.Scheduler.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("scheduler.retry_attempts must be >= 1"))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be >= 1"))
	}

	if c.Auth.Required && c.Auth.UsersFile == "" {
		errs = append(errs, fmt.Errorf("auth.users_file is required when auth.required is true"))
	}

	seen := make(map[string]bool)
	for i, srv := range c.MCP.Servers {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name is required", i))
		} else if seen[srv.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name %q is duplicated", i, srv.Name))
		}
		seen[srv.Name] = true
		if srv.Command == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].command is required", i))
		}
	}

	return errs
}

func validateURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL (got %q)", field, raw)
	}
	return nil
}

// MaskSecret keeps the first and last four characters of a secret.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
