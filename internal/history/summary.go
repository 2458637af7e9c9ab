package history

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/report"
)

// Health grades for a pass rate.
const (
	HealthGood             = "good"
	HealthFair             = "fair"
	HealthNeedsImprovement = "needs_improvement"
	HealthUnknown          = "unknown"
)

// GateTrend counts one gate's results across runs. Skipped results are
// counted but do not affect the pass rate.
type GateTrend struct {
	Gate    string `json:"gate"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// Summary aggregates a run history.
type Summary struct {
	Runs     int                                `json:"runs"`
	First    time.Time                          `json:"first,omitempty"`
	Last     time.Time                          `json:"last,omitempty"`
	Overall  map[orchestrator.OverallStatus]int `json:"overall"`
	Gates    []GateTrend                        `json:"gates"`
	PassRate float64                            `json:"pass_rate"`
	Health   string                             `json:"health"`
	// Latest is the newest run; its suggestions are the recommendations.
	Latest          *Run                              `json:"latest,omitempty"`
	Recommendations []orchestrator.RecoverySuggestion `json:"recommendations,omitempty"`
}

// Summarize aggregates runs, which must be oldest first.
//
// The pass rate is passed / (passed + failed), where timed_out and error
// count as failed. Health is good from 0.8, fair from 0.6 and
// needs_improvement below; unknown when no gate ever finished.
func Summarize(runs []Run) Summary {
	sum := Summary{
		Runs:    len(runs),
		Overall: make(map[orchestrator.OverallStatus]int),
		Health:  HealthUnknown,
	}
	if len(runs) == 0 {
		return sum
	}
	sum.First = runs[0].GeneratedAt
	sum.Last = runs[len(runs)-1].GeneratedAt
	latest := runs[len(runs)-1]
	sum.Latest = &latest
	sum.Recommendations = latest.Outcome.Suggestions

	trends := make(map[string]*GateTrend)
	var passed, finished int
	for _, run := range runs {
		sum.Overall[run.Outcome.Overall]++
		for _, r := range run.Outcome.Results {
			tr := trends[r.Tool]
			if tr == nil {
				tr = &GateTrend{Gate: r.Tool}
				trends[r.Tool] = tr
			}
			switch r.Status {
			case orchestrator.StatusPassed:
				tr.Passed++
				passed++
				finished++
			case orchestrator.StatusSkipped:
				tr.Skipped++
			default:
				tr.Failed++
				finished++
			}
		}
	}

	sum.Gates = make([]GateTrend, 0, len(trends))
	for _, tr := range trends {
		sum.Gates = append(sum.Gates, *tr)
	}
	sort.Slice(sum.Gates, func(i, j int) bool { return sum.Gates[i].Gate < sum.Gates[j].Gate })

	if finished > 0 {
		sum.PassRate = float64(passed) / float64(finished)
		switch {
		case sum.PassRate >= 0.8:
			sum.Health = HealthGood
		case sum.PassRate >= 0.6:
			sum.Health = HealthFair
		default:
			sum.Health = HealthNeedsImprovement
		}
	}
	return sum
}

// WriteSummary writes sum as a markdown document.
func WriteSummary(w io.Writer, sum Summary) error {
	var b strings.Builder
	b.WriteString("# reviewgate History\n\n")
	if sum.Runs == 0 {
		b.WriteString("No runs recorded.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	fmt.Fprintf(&b, "- **Runs**: %d\n", sum.Runs)
	fmt.Fprintf(&b, "- **Period**: %s to %s\n", sum.First.UTC().Format(time.RFC3339), sum.Last.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Health**: %s (%.0f%% of finished gates passed)\n", sum.Health, sum.PassRate*100)

	b.WriteString("\n## Overall Results\n\n")
	for _, o := range []orchestrator.OverallStatus{
		orchestrator.OverallAllPassed,
		orchestrator.OverallPartial,
		orchestrator.OverallAllFailed,
	} {
		if n := sum.Overall[o]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", o, n)
		}
	}

	b.WriteString("\n## Gate Trends\n\n")
	b.WriteString("| Gate | Passed | Failed | Skipped |\n|------|--------|--------|---------|\n")
	for _, g := range sum.Gates {
		fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", g.Gate, g.Passed, g.Failed, g.Skipped)
	}

	if l := sum.Latest; l != nil {
		fmt.Fprintf(&b, "\n## Latest Run (%s)\n\n", l.ID)
		fmt.Fprintf(&b, "**%s** under the %s policy in %s.", l.Outcome.Overall, l.Outcome.Policy, report.FormatDuration(l.Outcome.Duration))
		if l.SkipReason != "" {
			fmt.Fprintf(&b, " Review skipped: %s.", l.SkipReason)
		}
		b.WriteString("\n")
	}

	if len(sum.Recommendations) > 0 {
		b.WriteString("\n## Recommendations\n\n")
		for _, s := range sum.Recommendations {
			fmt.Fprintf(&b, "- **%s**", s.Tool)
			if s.Priority != "" {
				fmt.Fprintf(&b, " [%s]", s.Priority)
			}
			fmt.Fprintf(&b, ": `%s`", s.Command)
			if s.Description != "" {
				b.WriteString(" - " + s.Description)
			}
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// SaveSummary writes reports/report_<time>.md and .json and returns both
// paths.
func (s *Store) SaveSummary(sum Summary, at time.Time) (mdPath, jsonPath string, err error) {
	dir := filepath.Join(s.dir, reportsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create reports directory: %w", err)
	}
	base := filepath.Join(dir, "report_"+at.Local().Format(TimeLayout))

	var md strings.Builder
	if err := WriteSummary(&md, sum); err != nil {
		return "", "", err
	}
	if err := writeFile(base+".md", []byte(md.String())); err != nil {
		return "", "", err
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode summary: %w", err)
	}
	if err := writeFile(base+".json", data); err != nil {
		return "", "", err
	}
	return base + ".md", base + ".json", nil
}
