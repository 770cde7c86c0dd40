package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "casefill",
	Short: "Evidence-backed field gap filling for case workbooks",
	Long:  "Detects empty fields in a case workbook, acquires data from declared sources, and fills gaps with content-addressed evidence behind every value.",
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
