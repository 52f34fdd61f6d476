package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/tagging"
)

var (
	tagCheck         bool
	tagBatchOnly     bool
	tagContinueBatch string
	tagRoutePrompt   string
	tagAreaPrompt    string
)

var tagCmd = &cobra.Command{
	Use:   "tag <input_file> [batch_id]",
	Short: "Submit an input file for tagging, or retrieve and merge a batch",
	Long: `With only an input file, builds and submits the batch and prints its id.
With a batch id (comma-joined for a split submission), waits for the batch,
then merges the results into <input>_tagged.json.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if tagContinueBatch != "" {
			return cobra.NoArgs(cmd, args)
		}
		if err := cobra.RangeArgs(1, 2)(cmd, args); err != nil {
			return err
		}
		if (tagCheck || tagBatchOnly) && len(args) != 2 {
			return fmt.Errorf("--check and --batch-only need a batch id")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initTagger(ctx, "tag")
		if err != nil {
			return err
		}
		defer env.Close()
		d := env.Driver
		out := cmd.OutOrStdout()

		if tagContinueBatch != "" {
			id, err := d.ContinueFile(ctx, tagContinueBatch)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Continued split submission. Combined batch id: %s\n", id)
			return nil
		}

		input := args[0]
		if len(args) == 1 {
			sub, err := d.Submit(ctx, input, tagging.PromptFiles{Route: tagRoutePrompt, Area: tagAreaPrompt})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Batch submitted. Batch ID: %s\n", sub.BatchID)
			if sub.Pending != nil {
				fmt.Fprintf(out, "Split submission: %d requests wait in %s\n", sub.Pending.Remaining(), sub.Pending.Path())
				fmt.Fprintf(out, "Continue with: route-tagger tag --continue-batch %s\n", sub.Pending.Path())
			}
			fmt.Fprintf(out, "Retrieve with: route-tagger tag %s %s\n", input, sub.BatchID)
			return nil
		}

		ids := args[1]
		switch {
		case tagCheck:
			gs, err := d.Check(ctx, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Batch %s: %s\n", ids, gs.Status)
			for _, b := range gs.Batches {
				fmt.Fprintf(out, "  %s: %s (%d/%d completed, %d failed)\n", b.ID, b.Status, b.Completed, b.Total, b.Failed)
			}
			return nil

		case tagBatchOnly:
			path, err := d.FetchRaw(ctx, input, ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Raw results written to %s\n", path)
			return nil
		}

		res, err := d.Retrieve(ctx, input, ids)
		if err != nil {
			return err
		}
		zap.L().Info("tag: merge complete",
			zap.Int("areas_tagged", res.Stats.AreasTagged),
			zap.Int("routes_tagged", res.Stats.RoutesTagged),
			zap.Int("skipped", res.Skipped),
		)
		fmt.Fprintf(out, "Updated %d areas and %d routes with tags\n", res.Stats.AreasTagged, res.Stats.RoutesTagged)
		if res.BackupPath != "" {
			fmt.Fprintf(out, "Previous output backed up to %s\n", res.BackupPath)
		}
		fmt.Fprintf(out, "Tagged data written to %s\n", res.OutputPath)
		return nil
	},
}

func init() {
	tagCmd.Flags().BoolVar(&tagCheck, "check", false, "print batch status only")
	tagCmd.Flags().BoolVar(&tagBatchOnly, "batch-only", false, "write raw results to <input>_batch_results.jsonl and skip the merge")
	tagCmd.Flags().StringVar(&tagContinueBatch, "continue-batch", "", "submit the deferred half recorded in a pending batches file")
	tagCmd.Flags().StringVar(&tagRoutePrompt, "route-prompt", "", "route system prompt file (default from config)")
	tagCmd.Flags().StringVar(&tagAreaPrompt, "area-prompt", "", "area system prompt file (default from config)")
	tagCmd.MarkFlagsMutuallyExclusive("check", "batch-only", "continue-batch")
	tagCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if tagRoutePrompt == "" {
			tagRoutePrompt = cfg.Prompts.Route
		}
		if tagAreaPrompt == "" {
			tagAreaPrompt = cfg.Prompts.Area
		}
		return nil
	}
	rootCmd.AddCommand(tagCmd)
}
