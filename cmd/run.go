package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline, one step, or the steps from a given one",
	Long: `Runs classify → merge → convert → aggregate over the configured folders.

Steps can be addressed by number (1-4) or name (classify, merge, convert,
aggregate). --resume restarts the most recent failed run at its failed step.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stepFlag, _ := cmd.Flags().GetString("step")
		fromFlag, _ := cmd.Flags().GetString("from")
		resume, _ := cmd.Flags().GetBool("resume")

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		report, runErr := dispatchRun(ctx, env.Pipeline, stepFlag, fromFlag, resume)
		if report != nil {
			printReport(os.Stdout, report)
		}
		writeMetrics(env.Metrics, cfg.Metrics.TextfilePath)
		return runErr
	},
}

func init() {
	runCmd.Flags().String("step", "", "run a single step (1-4 or name)")
	runCmd.Flags().String("from", "", "run from this step to the end (1-4 or name)")
	runCmd.Flags().Bool("resume", false, "resume the most recent failed run")
	runCmd.MarkFlagsMutuallyExclusive("step", "from", "resume")
	rootCmd.AddCommand(runCmd)
}

// pipelineRunner is the subset of *pipeline.Pipeline used by the run,
// watch and serve commands.
type pipelineRunner interface {
	RunAll(ctx context.Context) (*pipeline.Report, error)
	RunStep(ctx context.Context, step pipeline.Step) (*pipeline.Report, error)
	RunFrom(ctx context.Context, step pipeline.Step) (*pipeline.Report, error)
	Resume(ctx context.Context) (*pipeline.Report, error)
	AggregatePath() string
}

// dispatchRun picks the run mode from the flags. At most one of step, from
// and resume is set.
func dispatchRun(ctx context.Context, p pipelineRunner, step, from string, resume bool) (*pipeline.Report, error) {
	switch {
	case step != "":
		s, err := pipeline.ParseStep(step)
		if err != nil {
			return nil, err
		}
		return p.RunStep(ctx, s)
	case from != "":
		s, err := pipeline.ParseStep(from)
		if err != nil {
			return nil, err
		}
		return p.RunFrom(ctx, s)
	case resume:
		report, err := p.Resume(ctx)
		if eris.Is(err, pipeline.ErrNothingToResume) {
			fmt.Fprintln(os.Stderr, "No failed run to resume.")
			return nil, nil
		}
		return report, err
	default:
		return p.RunAll(ctx)
	}
}

// printReport writes a per-step summary of report to w.
func printReport(out io.Writer, report *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", report.RunID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", report.Status)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "STEP\tNAME\tSTATUS\tFILES\tROWS\tNOTE")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t-----\t----\t----")
	for _, r := range report.Results {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Step,
			r.Step.Name(),
			r.Status(),
			humanize.Comma(int64(r.Files)),
			humanize.Comma(int64(r.Rows)),
			r.Note,
		)
	}
	_ = w.Flush()

	if n := len(report.Results); n > 0 {
		if outs := report.Results[n-1].Outputs; len(outs) > 0 {
			_, _ = fmt.Fprintf(out, "\nOutput: %s\n", strings.Join(outs, ", "))
		}
	}
}

// writeMetrics flushes m to the textfile at path, if any.
func writeMetrics(m *metrics.Metrics, path string) {
	if err := m.WriteTextfile(path); err != nil {
		zap.L().Warn("failed to write metrics textfile", zap.Error(err))
	}
}

// elapsed formats d for human-facing output.
func elapsed(d time.Duration) string {
	return d.Round(time.Second).String()
}
