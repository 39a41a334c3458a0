package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/xavier/internal/api"
)

func newTasksCmd(opts *rootOptions) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks on a running scheduler",
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "scheduler base URL (default: from tools.tasks.scheduler_url)")

	client := func() (*api.SchedulerClient, error) {
		if serverURL != "" {
			return api.NewSchedulerClient(serverURL, 10*time.Second), nil
		}
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		return api.NewSchedulerClient(cfg.Tools.Tasks.SchedulerURL, 10*time.Second), nil
	}

	cmd.AddCommand(
		newTasksAddCmd(client),
		newTasksListCmd(client),
		newTasksRemoveCmd(client),
		newTasksRunsCmd(client),
	)
	return cmd
}

type clientFunc func() (*api.SchedulerClient, error)

func newTasksAddCmd(client clientFunc) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "add <cron> <text>",
		Short: "Add a task",
		Example: `  xavier tasks add --user alice "0 9 * * 1-5" "summarise my unread notes"
  xavier tasks add --user alice "CRON_TZ=Europe/Berlin 30 7 * * *" "weather for today"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			view, err := c.CreateTask(cmd.Context(), userID, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task added\n  ID:       %s\n  User:     %s\n  Cron:     %s\n  Next run: %s\n",
				view.ID, view.UserID, view.Cron, view.NextRun.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "owner of the task")
	return cmd
}

func newTasksListCmd(client clientFunc) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			views, err := c.ListTasks(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tCRON\tNEXT RUN\tTEXT")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.UserID, v.Cron, v.NextRun.Format(time.RFC3339), v.Text)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "only tasks of this user")
	return cmd
}

func newTasksRemoveCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <task-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			if err := c.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s removed\n", args[0])
			return nil
		},
	}
}

func newTasksRunsCmd(client clientFunc) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <task-id>",
		Short: "Show recent fires of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			runs, err := c.Runs(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No fires yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCHEDULED\tSTATUS\tDURATION\tERROR")
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ScheduledAt.Format(time.RFC3339), r.Status, duration, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of fires to show")
	return cmd
}
