package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/fairlead"
	"github.com/arloliu/fairlead/source"
)

func newTasksCmd(global *globalFlags) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the task registry",
	}

	tasksCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered tasks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRegistry(cmd.Context(), global, func(ctx context.Context, registry *source.KV) error {
					tasks, err := registry.ListTasks(ctx)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					_, _ = fmt.Fprintln(w, "TASK\tADDED")
					for _, task := range tasks {
						rec, err := registry.Get(ctx, task.ID)
						if err != nil {
							return err
						}
						_, _ = fmt.Fprintf(w, "%s\t%s\n", rec.ID, rec.AddedAt.Format(time.RFC3339))
					}

					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "add TASK...",
			Short: "Register tasks",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRegistry(cmd.Context(), global, func(ctx context.Context, registry *source.KV) error {
					for _, id := range args {
						if err := registry.Add(ctx, fairlead.Task{ID: id}); err != nil {
							return err
						}
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "added", id)
					}

					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove TASK...",
			Short: "Unregister tasks",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRegistry(cmd.Context(), global, func(ctx context.Context, registry *source.KV) error {
					for _, id := range args {
						if err := registry.Remove(ctx, id); err != nil {
							return err
						}
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "removed", id)
					}

					return nil
				})
			},
		},
	)

	return tasksCmd
}

// withRegistry connects to NATS, opens the registry and runs fn with an
// operation timeout. Running instances keep the task set they started with.
func withRegistry(ctx context.Context, global *globalFlags, fn func(context.Context, *source.KV) error) error {
	cfg, err := loadConfig(global.configPath)
	if err != nil {
		return err
	}

	nc, err := connect(global.natsURL, cfg)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	registry, err := openRegistry(ctx, nc, cfg)
	if err != nil {
		return err
	}

	return fn(ctx, registry)
}
