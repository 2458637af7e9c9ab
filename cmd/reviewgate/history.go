package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewgate/internal/history"
)

var (
	historyDir  string
	historySave bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDir, "output-dir", "", "history directory (overrides history.dir)")
	historyCmd.Flags().BoolVar(&historySave, "save", false, "also write reports/report_<time>.md and .json")
}

// historyCmd summarizes saved runs
var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"report"},
	Short:   "Summarize the saved run history",
	Long: `Summarize every run saved with --output-dir (or history.dir): overall
results, pass/fail counts per gate, a health grade from the pass rate, and the
latest run's recovery suggestions.

Health is good when at least 80% of finished gates passed, fair from 60%, and
needs_improvement below that. Skipped gates do not count.

Examples:
  reviewgate history --output-dir .reviewgate/history
  reviewgate history --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir := cfg.History.Dir
		if historyDir != "" {
			dir = historyDir
		}
		if dir == "" {
			return usageError(errors.New("no history directory: set history.dir or pass --output-dir"))
		}
		return writeHistory(cmd.OutOrStdout(), dir, historySave, time.Now())
	},
}

// writeHistory prints the summary of the runs under dir and, with save,
// stores it under dir/reports.
func writeHistory(out io.Writer, dir string, save bool, now time.Time) error {
	store, err := history.New(dir, false)
	if err != nil {
		return usageError(err)
	}
	runs, err := store.Runs()
	if err != nil {
		return err
	}
	sum := history.Summarize(runs)
	if err := history.WriteSummary(out, sum); err != nil {
		return err
	}
	if !save || sum.Runs == 0 {
		return nil
	}
	mdPath, jsonPath, err := store.SaveSummary(sum, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSummary written to %s and %s\n", mdPath, jsonPath)
	return nil
}
