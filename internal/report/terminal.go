package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/review"
)

// Terminal writes colored reports. Color is dropped automatically when the
// writer is not a terminal.
type Terminal struct {
	w io.Writer

	header  lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	passed  lipgloss.Style
	warning lipgloss.Style
	failed  lipgloss.Style
	box     lipgloss.Style
}

// NewTerminal creates a renderer writing to w.
func NewTerminal(w io.Writer) *Terminal {
	r := lipgloss.NewRenderer(w)
	return &Terminal{
		w: w,
		header: r.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1),
		section: r.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true),
		label: r.NewStyle().Foreground(lipgloss.Color("45")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("245")),
		passed: r.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true),
		warning: r.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true),
		failed: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),
	}
}

func (t *Terminal) statusStyle(s orchestrator.Status) lipgloss.Style {
	switch s {
	case orchestrator.StatusPassed:
		return t.passed
	case orchestrator.StatusSkipped:
		return t.dim
	case orchestrator.StatusTimedOut:
		return t.warning
	default:
		return t.failed
	}
}

// Outcome renders gate results, the overall status and recovery
// suggestions.
func (t *Terminal) Outcome(rep Report) error {
	o := rep.Outcome
	if o == nil {
		return nil
	}

	var b strings.Builder
	b.WriteString(t.header.Render("reviewgate") + "\n")
	if rep.ProjectPath != "" {
		b.WriteString(t.label.Render("Project: ") + rep.ProjectPath)
		if rep.ProjectType != "" {
			b.WriteString(t.dim.Render(" (" + rep.ProjectType + ")"))
		}
		b.WriteString("\n")
	}
	b.WriteString(t.label.Render("Policy:  ") + string(o.Policy))
	if o.Concurrent {
		b.WriteString(t.dim.Render(" (parallel)"))
	}
	b.WriteString("\n\n")

	b.WriteString(t.section.Render("┃ Quality Gates") + "\n")
	for _, r := range o.Results {
		style := t.statusStyle(r.Status)
		fmt.Fprintf(&b, "  %s %-12s %s %s\n",
			style.Render(statusIcon(r.Status)),
			r.Tool,
			style.Render(fmt.Sprintf("%-9s", statusLabel(r.Status))),
			t.dim.Render(FormatDuration(r.Duration)),
		)
		if r.Status == orchestrator.StatusPassed || r.Status == orchestrator.StatusSkipped {
			continue
		}
		if out := strings.TrimSpace(r.Output()); out != "" {
			for _, line := range strings.Split(review.TailLines(out, terminalOutputLines), "\n") {
				b.WriteString("      " + t.dim.Render(line) + "\n")
			}
		}
	}

	b.WriteString("\n")
	summary := fmt.Sprintf("%s: %s", strings.ToUpper(string(o.Overall)), counts(o))
	if len(o.CacheHits) > 0 {
		summary += t.dim.Render(fmt.Sprintf("  [%d cached]", len(o.CacheHits)))
	}
	summary += t.dim.Render("  in " + FormatDuration(o.Duration))
	switch o.Overall {
	case orchestrator.OverallAllPassed:
		b.WriteString(t.passed.Render("✓ ") + summary + "\n")
	case orchestrator.OverallPartial:
		b.WriteString(t.warning.Render("⚠ ") + summary + "\n")
	default:
		b.WriteString(t.failed.Render("✗ ") + summary + "\n")
	}

	if len(o.Suggestions) > 0 {
		b.WriteString("\n" + t.section.Render("┃ Recovery") + "\n")
		for _, s := range o.Suggestions {
			line := "  " + t.label.Render(s.Tool+": ") + s.Command
			if s.Priority != "" {
				line += t.dim.Render(" [" + s.Priority + "]")
			}
			b.WriteString(line + "\n")
			if s.Description != "" {
				b.WriteString("    " + t.dim.Render(s.Description) + "\n")
			}
		}
	}

	_, err := io.WriteString(t.w, b.String())
	return err
}

// Review renders the reviewer response, or why there was none.
func (t *Terminal) Review(rep Report) error {
	var b strings.Builder
	b.WriteString("\n" + t.section.Render("┃ AI Review") + "\n")
	switch {
	case strings.TrimSpace(rep.Review) != "":
		b.WriteString(t.box.Render(strings.TrimSpace(rep.Review)) + "\n")
	case rep.SkipReason != "":
		b.WriteString("  " + t.dim.Render("Skipped: "+rep.SkipReason) + "\n")
	default:
		b.WriteString("  " + t.dim.Render("Skipped") + "\n")
	}
	_, err := io.WriteString(t.w, b.String())
	return err
}
