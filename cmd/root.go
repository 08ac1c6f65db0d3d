package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/config"
)

var cfg *config.Config

// exitCode distinguishes success (0), partial success with warnings (2),
// and hard failure (1, via RunE errors).
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "refillery",
	Short: "Compliance-gated crawler for refillable luxury beauty products",
	Long:  "Collects product and review data from French beauty retailers under robots.txt compliance, resolves refillable evidence, classifies luxury products by price backstop, and gates the dataset on provenance integrity.",
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
	os.Exit(exitCode)
}
