// Package mcp exposes the tools of stdio MCP servers to the model. A server
// is started once at boot; its tools are declared under "<server>_<tool>"
// and their output is sanitised like any other external content.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/sanitizer"
	"github.com/aatumaykin/xavier/internal/tools"
)

const protocolVersion = "2025-06-18"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Caller invokes a tool on an MCP server. *client.Client satisfies it.
type Caller interface {
	CallTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
}

// Server is a running stdio MCP server.
type Server struct {
	name   string
	client *client.Client
	tools  []mcptypes.Tool
	logger *logger.Logger
}

// Connect starts the server process, performs the handshake and lists its
// tools.
func Connect(ctx context.Context, cfg ServerConfig, version string, log *logger.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server name cannot be empty")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: command cannot be empty", cfg.Name)
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mcp server %s: %w", cfg.Name, err)
	}

	_, err = c.Initialize(ctx, mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "xavier",
				Version: version,
			},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize mcp server %s: %w", cfg.Name, err)
	}

	result, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to list tools of mcp server %s: %w", cfg.Name, err)
	}

	log.Info("mcp server connected",
		logger.Field{Key: "server", Value: cfg.Name},
		logger.Field{Key: "tools", Value: len(result.Tools)})
	return &Server{name: cfg.Name, client: c, tools: result.Tools, logger: log}, nil
}

// Register declares every tool of the server in reg. Tools whose name
// collides with an existing one are skipped.
func (s *Server) Register(reg *tools.Registry, guard *sanitizer.Guard) int {
	return RegisterTools(reg, s.name, s.tools, s.client, guard, s.logger)
}

func (s *Server) Close() error {
	return s.client.Close()
}

// RegisterTools wraps defs as tools calling caller and adds them to reg. It
// returns the number registered.
func RegisterTools(reg *tools.Registry, server string, defs []mcptypes.Tool, caller Caller, guard *sanitizer.Guard, log *logger.Logger) int {
	n := 0
	for _, def := range defs {
		t, err := NewTool(server, def, caller, guard, log)
		if err == nil {
			err = reg.Register(t)
		}
		if err != nil {
			log.Warn("skipping mcp tool", logger.Field{Key: "server", Value: server},
				logger.Field{Key: "tool", Value: def.Name}, logger.Field{Key: "error", Value: err.Error()})
			continue
		}
		n++
	}
	return n
}

// Tool is one MCP tool as seen by the model.
type Tool struct {
	name       string
	remoteName string
	server     string
	desc       string
	params     map[string]any
	userScoped bool
	caller     Caller
	guard      *sanitizer.Guard
	logger     *logger.Logger
}

func NewTool(server string, def mcptypes.Tool, caller Caller, guard *sanitizer.Guard, log *logger.Logger) (*Tool, error) {
	params, err := inputSchema(def)
	if err != nil {
		return nil, err
	}

	props, _ := params["properties"].(map[string]any)
	_, userScoped := props[tools.UsernameArg]
	if userScoped {
		props[tools.UsernameArg] = tools.UsernameProperty()
	}

	desc := def.Description
	if desc == "" {
		desc = "Tool " + def.Name + " of the " + server + " MCP server."
	}

	return &Tool{
		name:       invalidNameChars.ReplaceAllString(server+"_"+def.Name, "_"),
		remoteName: def.Name,
		server:     server,
		desc:       desc,
		params:     params,
		userScoped: userScoped,
		caller:     caller,
		guard:      guard,
		logger:     log,
	}, nil
}

// inputSchema renders the tool's JSON Schema as a plain map, whichever form
// the server sent it in.
func inputSchema(def mcptypes.Tool) (map[string]any, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", def.Name, err)
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode schema of tool %s: %w", def.Name, err)
	}

	schema := wire.InputSchema
	if schema == nil {
		schema = map[string]any{}
	}
	schema["type"] = "object"
	if _, ok := schema["properties"].(map[string]any); !ok {
		schema["properties"] = map[string]any{}
	}
	return schema, nil
}

func (t *Tool) Name() string               { return t.name }
func (t *Tool) Description() string        { return t.desc }
func (t *Tool) Parameters() map[string]any { return t.params }
func (t *Tool) UserScoped() bool           { return t.userScoped }

func (t *Tool) Execute(ctx context.Context, args string) (string, error) {
	arguments := map[string]any{}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &arguments); err != nil {
			return "", tools.NewValidationError("INVALID_ARGUMENTS", fmt.Sprintf("failed to parse arguments: %v", err), nil)
		}
	}

	result, err := t.caller.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      t.remoteName,
			Arguments: arguments,
		},
	})
	if err != nil {
		return "", fmt.Errorf("mcp server %s: %w", t.server, err)
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", &tools.ToolError{Code: "MCP_TOOL_ERROR", Message: text}
	}

	clean, rep := t.guard.Clean(text)
	if !rep.Safe {
		t.logger.WarnCtx(ctx, "mcp output flagged",
			logger.Field{Key: "tool", Value: t.name},
			logger.Field{Key: "risk", Value: rep.RiskScore},
			logger.Field{Key: "patterns", Value: rep.Detected})
	}
	return sanitizer.Wrap(t.name, clean), nil
}

// contentText joins text parts and renders anything else as JSON.
func contentText(content []mcptypes.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := mcptypes.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}
