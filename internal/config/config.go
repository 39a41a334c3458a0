package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "~/.xavier/config.toml"

// Load reads, defaults and env-expands the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes into a Config with defaults applied.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	expandEnvVars(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(c *Config) {
	if c.Data.Dir == "" {
		c.Data.Dir = "~/.xavier"
	}
	c.Data.Dir = ExpandHome(c.Data.Dir)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.deepseek.com"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "deepseek-chat"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 2
	}

	if c.Agent.Addr == "" {
		c.Agent.Addr = "127.0.0.1:8000"
	}
	if c.Agent.MaxToolIterations == 0 {
		c.Agent.MaxToolIterations = 10
	}
	if c.Agent.ToolTimeoutSeconds == 0 {
		c.Agent.ToolTimeoutSeconds = 30
	}
	if c.Agent.SystemTurnTimeoutSeconds == 0 {
		c.Agent.SystemTurnTimeoutSeconds = 300
	}
	if c.Agent.Timezone == "" {
		c.Agent.Timezone = "Local"
	}

	if c.Scheduler.Addr == "" {
		c.Scheduler.Addr = "127.0.0.1:8001"
	}
	if c.Scheduler.TriggerURL == "" {
		c.Scheduler.TriggerURL = "http://" + c.Agent.Addr + "/system_trigger"
	}
	if c.Scheduler.TriggerTimeoutSeconds == 0 {
		c.Scheduler.TriggerTimeoutSeconds = 10
	}
	if c.Scheduler.RetryAttempts == 0 {
		c.Scheduler.RetryAttempts = 3
	}
	if c.Scheduler.RetryInitialMillis == 0 {
		c.Scheduler.RetryInitialMillis = 1000
	}
	if c.Scheduler.RetryMaxMillis == 0 {
		c.Scheduler.RetryMaxMillis = 10000
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.QueueSize == 0 {
		c.Scheduler.QueueSize = 64
	}
	if c.Scheduler.HistoryDB == "" {
		c.Scheduler.HistoryDB = filepath.Join(c.Data.CronDir(), "history.db")
	}
	c.Scheduler.HistoryDB = ExpandHome(c.Scheduler.HistoryDB)

	c.Auth.UsersFile = ExpandHome(c.Auth.UsersFile)

	if c.Tools.File.MaxReadSize == 0 {
		c.Tools.File.MaxReadSize = 1 << 20
	}
	if c.Tools.Fetch.TimeoutSeconds == 0 {
		c.Tools.Fetch.TimeoutSeconds = 30
	}
	if c.Tools.Fetch.MaxResponseSize == 0 {
		c.Tools.Fetch.MaxResponseSize = 5 << 20
	}
	if c.Tools.Fetch.UserAgent == "" {
		c.Tools.Fetch.UserAgent = "xavier/1.0"
	}
	if c.Tools.Tasks.SchedulerURL == "" {
		c.Tools.Tasks.SchedulerURL = "http://" + c.Scheduler.Addr
	}
}

func expandEnvVars(c *Config) {
	c.Data.Dir = expandEnv(c.Data.Dir)
	c.Logging.Output = expandEnv(c.Logging.Output)
	c.LLM.BaseURL = expandEnv(c.LLM.BaseURL)
	c.LLM.APIKey = expandEnv(c.LLM.APIKey)
	c.Scheduler.TriggerURL = expandEnv(c.Scheduler.TriggerURL)
	c.Scheduler.HistoryDB = expandEnv(c.Scheduler.HistoryDB)
	c.Auth.UsersFile = expandEnv(c.Auth.UsersFile)
	c.Tools.Tasks.SchedulerURL = expandEnv(c.Tools.Tasks.SchedulerURL)
	for i := range c.MCP.Servers {
		srv := &c.MCP.Servers[i]
		srv.Command = expandEnv(srv.Command)
		for k, v := range srv.Env {
			srv.Env[k] = expandEnv(v)
		}
	}
}

// expandEnv resolves a whole-value ${VAR} or ${VAR:default} reference.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}

	content := s[2 : len(s)-1]
	if key, def, ok := strings.Cut(content, ":"); ok {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}
	return os.Getenv(content)
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
