package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/route-tagger/internal/queue"
	"github.com/sells-group/route-tagger/internal/store"
)

var statusEvents int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Process input files one batch at a time",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <input_file>...",
	Short: "Add input files to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Adding needs no inference backend.
		o := queue.New(nil, queueConfig())
		n, err := o.Add(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d file(s) to %s\n", n, o.Files().QueuePath)
		return nil
	},
}

var queueRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the queue processor until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initTagger(ctx, "queue")
		if err != nil {
			return err
		}
		defer env.Close()

		o := queue.New(env.Driver, queueConfig())
		if cfg.Monitoring.WebhookURL == "" {
			return o.Run(ctx)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return o.Run(gctx) })
		g.Go(func() error {
			newChecker(env.Ledger, o.Files()).Run(gctx)
			return nil
		})
		return g.Wait()
	},
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the queue and status files",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := queueConfig().Files
		snap, err := files.Snapshot()
		if err != nil {
			return err
		}
		events := recentEvents(cmd.Context(), statusEvents)
		return queue.WriteReport(cmd.OutOrStdout(), snap, events)
	},
}

// recentEvents reads the newest ledger events. The ledger is optional
// here, so failures are logged and yield no events.
func recentEvents(ctx context.Context, limit int) []store.Event {
	if limit <= 0 {
		return nil
	}
	ledger, err := store.Open(ctx, cfg.Store)
	if err != nil {
		zap.L().Warn("status: ledger unavailable", zap.Error(err))
		return nil
	}
	defer ledger.Close() //nolint:errcheck

	events, err := ledger.ListEvents(ctx, store.EventFilter{Limit: limit})
	if err != nil {
		zap.L().Warn("status: list ledger events", zap.Error(err))
		return nil
	}
	return events
}

func init() {
	queueStatusCmd.Flags().IntVar(&statusEvents, "events", 10, "number of recent ledger events to show (0 to skip)")
	queueCmd.AddCommand(queueAddCmd, queueRunCmd, queueStatusCmd)
	rootCmd.AddCommand(queueCmd)
}
