package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
	"github.com/ncku-metabolomics/classyfire-cli/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline whenever new source tables arrive",
	Long:  "Watches the source folder and runs the full pipeline once it has been quiet for the debounce window.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("publish") {
			cfg.Watch.Publish, _ = cmd.Flags().GetBool("publish")
		}

		env, err := initPipeline(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		run := meteredRun(env.Pipeline.RunAll, env.Metrics, cfg.Metrics.TextfilePath)
		w := watch.New(cfg.Folders.Source, cfg.Watch.Debounce(), runTrigger(run, uploader()))
		return w.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().Bool("publish", false, "upload the aggregated table after each successful run")
	rootCmd.AddCommand(watchCmd)
}

type runFunc func(ctx context.Context) (*pipeline.Report, error)

// meteredRun flushes the metrics textfile after every run.
func meteredRun(run runFunc, m *metrics.Metrics, textfile string) runFunc {
	return func(ctx context.Context) (*pipeline.Report, error) {
		report, err := run(ctx)
		writeMetrics(m, textfile)
		return report, err
	}
}

// uploader returns the publish hook for watch mode, or nil when publishing
// is disabled.
func uploader() func(ctx context.Context, path string) error {
	if !cfg.Watch.Publish {
		return nil
	}
	return func(ctx context.Context, path string) error {
		_, err := publishFile(ctx, path)
		return err
	}
}

// runTrigger adapts a full run to a watch trigger. When upload is non-nil
// the aggregated table is uploaded after a run that produced one.
func runTrigger(run runFunc, upload func(ctx context.Context, path string) error) watch.Trigger {
	return func(ctx context.Context) error {
		report, err := run(ctx)
		if err != nil {
			return err
		}
		if upload == nil {
			return nil
		}
		out := aggregateOutput(report)
		if out == "" {
			zap.L().Info("no aggregated table to publish")
			return nil
		}
		return upload(ctx, out)
	}
}

// aggregateOutput returns the file written by the aggregation step of
// report, or "" when that step did not produce one.
func aggregateOutput(report *pipeline.Report) string {
	if report == nil {
		return ""
	}
	for _, r := range report.Results {
		if r.Step == pipeline.StepAggregate && r.Skipped == nil && len(r.Outputs) > 0 {
			return r.Outputs[0]
		}
	}
	return ""
}
