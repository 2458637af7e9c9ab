// Package report renders orchestration outcomes for people: a colored
// terminal summary and a markdown file.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// Report is everything shown after a run.
type Report struct {
	ProjectPath string
	ProjectType string
	IsGitRepo   bool
	Outcome     *orchestrator.AggregateOutcome
	// Review is the reviewer response. Empty with a SkipReason when no
	// review ran.
	Review      string
	SkipReason  string
	GeneratedAt time.Time
}

// Output lines kept per non-passing gate.
const (
	terminalOutputLines = 10
	markdownOutputLines = 50
)

func statusLabel(s orchestrator.Status) string {
	switch s {
	case orchestrator.StatusPassed:
		return "PASSED"
	case orchestrator.StatusFailed:
		return "FAILED"
	case orchestrator.StatusTimedOut:
		return "TIMED OUT"
	case orchestrator.StatusSkipped:
		return "SKIPPED"
	default:
		return "ERROR"
	}
}

func statusIcon(s orchestrator.Status) string {
	switch s {
	case orchestrator.StatusPassed:
		return "✓"
	case orchestrator.StatusFailed:
		return "✗"
	case orchestrator.StatusTimedOut:
		return "⏱"
	case orchestrator.StatusSkipped:
		return "–"
	default:
		return "!"
	}
}

// FormatDuration renders sub-second durations in milliseconds and longer
// ones in seconds.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func failedTools(o *orchestrator.AggregateOutcome) []string {
	var names []string
	for _, r := range o.Results {
		if r.Status != orchestrator.StatusPassed && r.Status != orchestrator.StatusSkipped {
			names = append(names, r.Tool)
		}
	}
	return names
}

func counts(o *orchestrator.AggregateOutcome) string {
	var parts []string
	for _, s := range []orchestrator.Status{
		orchestrator.StatusPassed,
		orchestrator.StatusFailed,
		orchestrator.StatusTimedOut,
		orchestrator.StatusError,
		orchestrator.StatusSkipped,
	} {
		if n := o.Count(s); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(statusLabel(s))))
		}
	}
	return strings.Join(parts, ", ")
}
