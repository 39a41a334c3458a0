package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/api"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one message to a running agent",
		Long: `Send a user turn to the agent and print the answer. The password is read
from XAVIER_PASSWORD when the agent requires authentication.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client := api.NewAgentClient("http://"+cfg.Agent.Addr, timeout)
			answer, err := client.Ask(cmd.Context(), userID, strings.Join(args, " "), os.Getenv("XAVIER_PASSWORD"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "user id")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the answer")
	return cmd
}
