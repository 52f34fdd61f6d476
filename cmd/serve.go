package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/server"
	"github.com/sells-group/route-tagger/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ledger, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open ledger")
		}
		defer ledger.Close() //nolint:errcheck

		// Listing pending files needs no inference backend.
		pending := batch.NewManager(nil, batch.ConfigFrom(cfg.Batch, cfg.Queue))
		srv := server.New(queueConfig().Files, pending, ledger)
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
