package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/config"
	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/report"
)

// runOptions are the flags shared by run and watch.
type runOptions struct {
	progressive  bool
	parallel     bool
	noCache      bool
	cacheBackend string
	dryRun       bool
	skipReview   bool
	reportPath   string
	metricsFile  string
	only         []string
	// outputDir and timestampOutput override the history section.
	outputDir       string
	timestampOutput bool
}

var runOpts runOptions

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd, &runOpts)
	runCmd.Flags().StringVar(&runOpts.reportPath, "report", "", "write a markdown report to this path")
	runCmd.Flags().StringVar(&runOpts.metricsFile, "metrics-file", "", "write Prometheus metrics to this node-exporter textfile")
}

func addRunFlags(cmd *cobra.Command, o *runOptions) {
	cmd.Flags().BoolVar(&o.progressive, "progressive", false, "run every gate even after a failure")
	cmd.Flags().BoolVar(&o.parallel, "parallel", true, "run parallel-safe gates concurrently")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "ignore and do not write cached results")
	cmd.Flags().StringVar(&o.cacheBackend, "cache-backend", "", "cache backend: file, sqlite or memory")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "build the review context but do not call the reviewer")
	cmd.Flags().BoolVar(&o.skipReview, "skip-review", false, "run the gates only")
	cmd.Flags().StringSliceVar(&o.only, "only", nil, "run only these tools (comma separated)")
	cmd.Flags().StringVar(&o.outputDir, "output-dir", "", "save each run's report, gate logs and outcome under this directory")
	cmd.Flags().BoolVar(&o.timestampOutput, "timestamp-output", false, "keep every run in a timestamped directory instead of replacing reviews/latest")
}

// runCmd runs the gates once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run quality gates and the AI review",
	Long: `Run every enabled quality gate over the project, then, when the gates allow
it, send the assembled review context to the configured reviewer.

Under the strict policy (default) the first failing gate stops the run and
blocks the review. Under the progressive policy every gate runs and the review
always happens.

Exit codes:
  0  all gates passed
  1  at least one gate failed, timed out, errored or was skipped
  2  configuration or usage error

Examples:
  # Strict run with the detected project profile
  reviewgate run

  # Progressive run, no cache, markdown report
  reviewgate run --progressive --no-cache --report review.md

  # Only the linter and the formatter
  reviewgate run --only linter,formatter --skip-review

  # Keep every run under .reviewgate/history/reviews/<timestamp>
  reviewgate run --output-dir .reviewgate/history --timestamp-output`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := runOpts.apply(cfg, cmd.Flags().Changed); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				cmd.PrintErrf("Warning: %v\n", err)
			}
		}()
		return executeRun(cmd.Context(), a, runOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// apply layers explicitly set flags over cfg and revalidates it.
func (o runOptions) apply(cfg *config.Config, changed func(name string) bool) error {
	if o.progressive {
		cfg.Policy.Mode = string(orchestrator.PolicyProgressive)
	}
	if changed("parallel") {
		cfg.Policy.Parallel = o.parallel
	}
	if o.noCache {
		cfg.Cache.Enabled = false
	}
	if o.cacheBackend != "" {
		cfg.Cache.Backend = o.cacheBackend
	}
	if o.dryRun {
		cfg.Review.DryRun = true
	}
	if o.skipReview {
		cfg.Review.Enabled = false
	}
	if o.outputDir != "" {
		cfg.History.Dir = o.outputDir
	}
	if o.timestampOutput {
		cfg.History.Timestamped = true
	}
	if len(o.only) > 0 {
		if err := cfg.Only(o.only); err != nil {
			return usageError(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return usageError(fmt.Errorf("config validation failed: %w", err))
	}
	return nil
}

// executeRun runs the gates once, renders the results and maps the verdict
// to an exit code.
func executeRun(ctx context.Context, a *app, o runOptions, out, progressOut io.Writer) error {
	outcome, runErr := a.runGates(ctx, func(p orchestrator.Progress) {
		fmt.Fprintf(progressOut, "[%d/%d] %s %s%s\n", p.Completed, p.Total, p.Tool, p.Status, cachedSuffix(p.Cached))
	})
	if outcome == nil {
		return runErr
	}

	resp, skipReason := "", "run interrupted"
	if runErr == nil {
		resp, skipReason = a.reviewOutcome(ctx, outcome)
	}
	rep := a.newReport(outcome, resp, skipReason)

	term := report.NewTerminal(out)
	if err := term.Outcome(rep); err != nil {
		return err
	}
	if err := term.Review(rep); err != nil {
		return err
	}
	if o.reportPath != "" {
		if err := report.SaveMarkdown(o.reportPath, rep); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nReport written to %s\n", o.reportPath)
	}
	dir, err := a.saveHistory(rep)
	if err != nil {
		return err
	}
	if dir != "" {
		fmt.Fprintf(out, "\nRun saved to %s\n", dir)
	}
	if err := a.writeMetrics(o.metricsFile); err != nil {
		a.logger.Warn(ctx, "metrics textfile not written", zap.Error(err))
	}

	if runErr != nil {
		return &exitError{code: exitGateFailure, err: runErr}
	}
	if outcome.Overall != orchestrator.OverallAllPassed {
		return &exitError{code: exitGateFailure}
	}
	return nil
}

func cachedSuffix(cached bool) string {
	if cached {
		return " (cached)"
	}
	return ""
}
