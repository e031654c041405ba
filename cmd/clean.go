package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Empty every stage folder",
	Long:  "Deletes and recreates the source, grouping, final, convert and MetaboAnalyst folders.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("clean"); err != nil {
			return err
		}
		keepSource, _ := cmd.Flags().GetBool("keep-source")

		reset, err := pipeline.ResetFolders(cfg.Folders, keepSource)
		for _, dir := range reset {
			fmt.Printf("Cleaned %s\n", dir)
		}
		return err
	},
}

func init() {
	cleanCmd.Flags().Bool("keep-source", false, "leave the source folder untouched")
	rootCmd.AddCommand(cleanCmd)
}
