package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandHome(opts.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(config.Template), 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration is valid\n")
			fmt.Fprintf(out, "  data dir:      %s\n", cfg.Data.Dir)
			fmt.Fprintf(out, "  llm:           %s (%s), key %s\n", cfg.LLM.Model, cfg.LLM.BaseURL, config.MaskSecret(cfg.LLM.APIKey))
			fmt.Fprintf(out, "  agent:         %s\n", cfg.Agent.Addr)
			fmt.Fprintf(out, "  scheduler:     %s -> %s\n", cfg.Scheduler.Addr, cfg.Scheduler.TriggerURL)
			fmt.Fprintf(out, "  mcp servers:   %d\n", len(cfg.MCP.Servers))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
