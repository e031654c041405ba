package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "classyfire-cli",
	Short: "Metabolomics classification and aggregation pipeline",
	Long:  "Classifies MS-DIAL compound tables with ClassyFire, merges the taxonomy into the peak tables, converts InChIKeys with CTS and aggregates peak areas into a MetaboAnalyst table.",
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
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
