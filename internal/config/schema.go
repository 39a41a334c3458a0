// Package config loads the TOML configuration shared by the agent and
// scheduler services.
//
// Sections:
//   - [data]: root directory for conversations, tasks, files and history
//   - [logging]: level, format and output
//   - [llm]: OpenAI-compatible chat completion endpoint
//   - [agent]: orchestration service listener and turn limits
//   - [scheduler]: scheduler service listener and trigger delivery
//   - [auth]: users file for the default credential verifier
//   - [tools]: built-in tool switches
//   - [[mcp.servers]]: external MCP tool providers launched over stdio
//
// String values may reference the environment as ${VAR} or ${VAR:default}.
package config

import (
	"path/filepath"
	"time"
)

type Config struct {
	Data      DataConfig      `toml:"data"`
	Logging   LoggingConfig   `toml:"logging"`
	LLM       LLMConfig       `toml:"llm"`
	Agent     AgentConfig     `toml:"agent"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Auth      AuthConfig      `toml:"auth"`
	Tools     ToolsConfig     `toml:"tools"`
	MCP       MCPConfig       `toml:"mcp"`
}

type DataConfig struct {
	Dir string `toml:"dir"`
}

// ConversationsDir holds one JSONL log per user.
func (d DataConfig) ConversationsDir() string { return filepath.Join(d.Dir, "conversations") }

// CronDir holds the task store.
func (d DataConfig) CronDir() string { return filepath.Join(d.Dir, "cron") }

// FilesDir is the root of the per-user file sandboxes.
func (d DataConfig) FilesDir() string { return filepath.Join(d.Dir, "files") }

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

type LLMConfig struct {
	BaseURL           string  `toml:"base_url"`
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxRetries        int     `toml:"max_retries"`
	RequestsPerMinute int     `toml:"requests_per_minute"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type AgentConfig struct {
	Addr                     string `toml:"addr"`
	MaxToolIterations        int    `toml:"max_tool_iterations"`
	ToolTimeoutSeconds       int    `toml:"tool_timeout_seconds"`
	SystemTurnTimeoutSeconds int    `toml:"system_turn_timeout_seconds"`
	SystemPreamble           string `toml:"system_preamble"`
	Timezone                 string `toml:"timezone"`
}

type SchedulerConfig struct {
	Addr                  string `toml:"addr"`
	TriggerURL            string `toml:"trigger_url"`
	TriggerTimeoutSeconds int    `toml:"trigger_timeout_seconds"`
	RetryAttempts         int    `toml:"retry_attempts"`
	RetryInitialMillis    int    `toml:"retry_initial_ms"`
	RetryMaxMillis        int    `toml:"retry_max_ms"`
	Workers               int    `toml:"workers"`
	QueueSize             int    `toml:"queue_size"`
	HistoryDB             string `toml:"history_db"`
}

type AuthConfig struct {
	UsersFile string `toml:"users_file"`
	Required  bool   `toml:"required"`
}

type ToolsConfig struct {
	File  FileToolConfig  `toml:"file"`
	Fetch FetchToolConfig `toml:"fetch"`
	Tasks TasksToolConfig `toml:"tasks"`
}

type FileToolConfig struct {
	Enabled     bool  `toml:"enabled"`
	MaxReadSize int64 `toml:"max_read_size"`
}

type FetchToolConfig struct {
	Enabled         bool   `toml:"enabled"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxResponseSize int64  `toml:"max_response_size"`
	UserAgent       string `toml:"user_agent"`
}

// TasksToolConfig points the task tools at the scheduler service.
type TasksToolConfig struct {
	Enabled      bool   `toml:"enabled"`
	SchedulerURL string `toml:"scheduler_url"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `toml:"servers"`
}

// MCPServerConfig describes one stdio MCP server whose tools are exposed to
// the model.
type MCPServerConfig struct {
	Name    string            `toml:"name"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}
