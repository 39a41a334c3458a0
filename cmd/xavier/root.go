package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/config"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/version"
)

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "xavier",
		Short: "Xavier - per-user LLM agent with a cron scheduler",
		Long: `Xavier runs two services: the agent, which answers users through an
LLM with tools, and the scheduler, which fires recurring instructions at the
agent on cron schedules.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	cmd.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(
		newAgentCmd(opts),
		newSchedulerCmd(opts),
		newAskCmd(opts),
		newTasksCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the dotenv file, then the configuration, and validates it.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadEnvOptional(o.envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		return nil, fmt.Errorf("configuration has %d error(s)", len(errs))
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setup is load plus the process logger.
func (o *rootOptions) setup() (*config.Config, *logger.Logger, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, nil
}
