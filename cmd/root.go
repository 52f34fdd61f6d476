package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "route-tagger",
	Short: "LLM batch tagging for climbing routes and areas",
	Long:  "Builds chat-completion batch requests from scraped route data, submits them to a batch inference service, and merges validated tags back into the dataset. A durable queue runs many input files one batch at a time.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
