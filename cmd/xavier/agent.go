package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/agent/loop"
	"github.com/aatumaykin/xavier/internal/api"
	"github.com/aatumaykin/xavier/internal/auth"
	"github.com/aatumaykin/xavier/internal/config"
	"github.com/aatumaykin/xavier/internal/conversation"
	"github.com/aatumaykin/xavier/internal/llm"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
	"github.com/aatumaykin/xavier/internal/sanitizer"
	"github.com/aatumaykin/xavier/internal/tools"
	"github.com/aatumaykin/xavier/internal/tools/fetch"
	"github.com/aatumaykin/xavier/internal/tools/file"
	"github.com/aatumaykin/xavier/internal/tools/mcp"
	"github.com/aatumaykin/xavier/internal/tools/tasks"
	"github.com/aatumaykin/xavier/internal/version"
	"github.com/aatumaykin/xavier/internal/workspace"
)

const shutdownTimeout = 30 * time.Second

func newAgentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the orchestration service",
		Long: `Serve /ask, /login and /system_trigger. Every user's turns run one at a
time against that user's conversation log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.setup()
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, log)
		},
	}
}

func runAgent(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting xavier agent",
		logger.Field{Key: "version", Value: version.Version},
		logger.Field{Key: "addr", Value: cfg.Agent.Addr},
		logger.Field{Key: "model", Value: cfg.LLM.Model},
		logger.Field{Key: "api_key", Value: config.MaskSecret(cfg.LLM.APIKey)})

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return fmt.Errorf("invalid agent.timezone: %w", err)
	}

	m := metrics.New()

	var limiter *llm.TokenBucketRateLimiter
	if cfg.LLM.RequestsPerMinute > 0 {
		limiter = llm.PerMinute(cfg.LLM.RequestsPerMinute)
	}
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
		MaxRetries:  cfg.LLM.MaxRetries,
		RateLimiter: limiter,
	}, log)

	store, err := conversation.NewStore(cfg.Data.ConversationsDir(), log)
	if err != nil {
		return err
	}

	reg, servers, err := buildTools(ctx, cfg, loc, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range servers {
			if err := s.Close(); err != nil {
				log.Warn("failed to close mcp server", logger.Field{Key: "error", Value: err.Error()})
			}
		}
	}()

	verifier, err := buildVerifier(cfg.Auth, log)
	if err != nil {
		return err
	}

	engine, err := loop.NewEngine(loop.Config{
		Provider:          provider,
		History:           store,
		Tools:             reg,
		Logger:            log,
		Metrics:           m,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		ToolTimeout:       time.Duration(cfg.Agent.ToolTimeoutSeconds) * time.Second,
		SystemTurnTimeout: time.Duration(cfg.Agent.SystemTurnTimeoutSeconds) * time.Second,
		SystemPreamble:    cfg.Agent.SystemPreamble,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	server := api.NewAgentServer(api.AgentServerConfig{
		Engine:       engine,
		Verifier:     verifier,
		AuthRequired: cfg.Auth.Required,
		Logger:       log,
		Metrics:      m,
	})
	serveErr := server.Serve(ctx, cfg.Agent.Addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Warn("system turns did not finish in time", logger.Field{Key: "error", Value: err.Error()})
	}

	log.Info("xavier agent stopped")
	return serveErr
}

// buildTools registers the built-in tools enabled in cfg plus every tool of
// the configured MCP servers.
func buildTools(ctx context.Context, cfg *config.Config, loc *time.Location, log *logger.Logger) (*tools.Registry, []*mcp.Server, error) {
	reg := tools.NewRegistry()
	guard := sanitizer.NewGuard(sanitizer.DefaultRiskThreshold)

	if err := reg.Register(tools.NewSystemTimeTool(loc)); err != nil {
		return nil, nil, err
	}
	if cfg.Tools.File.Enabled {
		if err := file.Register(reg, workspace.NewRoot(cfg.Data.FilesDir()), cfg.Tools.File.MaxReadSize); err != nil {
			return nil, nil, err
		}
	}
	if cfg.Tools.Fetch.Enabled {
		err := reg.Register(fetch.New(fetch.Config{
			Timeout:         time.Duration(cfg.Tools.Fetch.TimeoutSeconds) * time.Second,
			MaxResponseSize: cfg.Tools.Fetch.MaxResponseSize,
			UserAgent:       cfg.Tools.Fetch.UserAgent,
		}, guard, log))
		if err != nil {
			return nil, nil, err
		}
	}
	if cfg.Tools.Tasks.Enabled {
		client := api.NewSchedulerClient(cfg.Tools.Tasks.SchedulerURL, 10*time.Second)
		if err := tasks.Register(reg, client); err != nil {
			return nil, nil, err
		}
	}

	var servers []*mcp.Server
	for _, sc := range cfg.MCP.Servers {
		srv, err := mcp.Connect(ctx, mcp.ServerConfig{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		}, version.Version, log)
		if err != nil {
			log.Error("mcp server unavailable", err, logger.Field{Key: "server", Value: sc.Name})
			continue
		}
		n := srv.Register(reg, guard)
		log.Info("mcp tools registered",
			logger.Field{Key: "server", Value: sc.Name},
			logger.Field{Key: "count", Value: n})
		servers = append(servers, srv)
	}

	log.Info("tools registered",
		logger.Field{Key: "count", Value: len(reg.List())},
		logger.Field{Key: "user_scoped", Value: reg.UserScopedNames()})
	return reg, servers, nil
}

// buildVerifier loads the users file. A missing file is only fatal when auth
// is required.
func buildVerifier(cfg config.AuthConfig, log *logger.Logger) (auth.Verifier, error) {
	if cfg.UsersFile == "" {
		return auth.AllowAll{}, nil
	}
	v, err := auth.LoadFileVerifier(cfg.UsersFile)
	if err != nil {
		if !cfg.Required && errors.Is(err, fs.ErrNotExist) {
			log.Warn("users file not found, /login will accept anyone",
				logger.Field{Key: "path", Value: cfg.UsersFile})
			return auth.AllowAll{}, nil
		}
		return nil, err
	}
	log.Info("users loaded", logger.Field{Key: "count", Value: len(v.Users())})
	return v, nil
}
