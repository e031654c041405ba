package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the classification cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredClassifications(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		fmt.Printf("Pruned %s expired entries.\n", humanize.Comma(int64(n)))
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.CacheStats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}
		formatCacheStats(os.Stdout, stats)
		return nil
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Seed the cache from existing classification tables",
	Long:  "Reads classification tables (default: the grouping folder) and stores every InChIKey they contain, so later runs skip those lookups.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		dir := cfg.Folders.Grouping
		if len(args) == 1 {
			dir = args[0]
		}

		entries, err := pipeline.LoadCacheEntries(ctx, dir, cfg.Pipeline.CacheTTL(), time.Now().UTC())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(os.Stderr, "No classifications found in %s.\n", dir)
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ImportClassifications(ctx, entries)
		if err != nil {
			return eris.Wrap(err, "cache import")
		}
		fmt.Printf("Imported %s of %s classifications from %s.\n",
			humanize.Comma(n), humanize.Comma(int64(len(entries))), dir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheImportCmd)
	rootCmd.AddCommand(cacheCmd)
}

// formatCacheStats writes cache counts to w.
func formatCacheStats(out io.Writer, s *model.CacheStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%s\n", humanize.Comma(int64(s.Total)))
	_, _ = fmt.Fprintf(w, "Found:\t%s\n", humanize.Comma(int64(s.Found)))
	_, _ = fmt.Fprintf(w, "Missing:\t%s\n", humanize.Comma(int64(s.Missing)))
	_, _ = fmt.Fprintf(w, "Expired:\t%s\n", humanize.Comma(int64(s.Expired)))
	_ = w.Flush()
}
