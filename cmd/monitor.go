package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/route-tagger/internal/monitoring"
	"github.com/sells-group/route-tagger/internal/store"
)

var monitorSend bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print batch health from the ledger and queue, optionally sending alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ledger, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open ledger")
		}
		defer ledger.Close() //nolint:errcheck

		files := queueConfig().Files
		collector := monitoring.NewCollector(ledger, files)
		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if monitorSend {
			alerter.SendAlerts(ctx, alerts)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "    ")
		return enc.Encode(struct {
			Metrics *monitoring.MetricsSnapshot `json:"metrics"`
			Alerts  []monitoring.Alert          `json:"alerts"`
		}{snap, alerts})
	},
}

func newChecker(ledger store.Ledger, status monitoring.StatusReader) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(ledger, status),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorSend, "send", false, "post triggered alerts to monitoring.webhook_url")
	rootCmd.AddCommand(monitorCmd)
}
