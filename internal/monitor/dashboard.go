// Package monitor is the live terminal dashboard for watch mode.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/report"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxChangedShown = 5
)

// RunStartedMsg announces a new orchestration run.
type RunStartedMsg struct {
	Total   int
	Changed []string
	At      time.Time
}

// GateMsg reports one gate finishing.
type GateMsg orchestrator.Progress

// RunFinishedMsg carries the outcome, or the engine error, of a run.
type RunFinishedMsg struct {
	Outcome *orchestrator.AggregateOutcome
	Err     error
}

type gateRow struct {
	tool   string
	status orchestrator.Status
	cached bool
}

// Model is the bubbletea model for the watch dashboard.
type Model struct {
	projectPath string
	policy      orchestrator.Policy
	rerun       func()

	runs      int
	running   bool
	startedAt time.Time
	total     int
	completed int
	gates     []gateRow
	changed   []string

	last    *orchestrator.AggregateOutcome
	lastErr error

	durationHistory []float64
	passHistory     []float64

	progress progress.Model
	quitting bool
}

// Lipgloss styles, k9s-like palette.
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates the dashboard. rerun, when non-nil, is called from its
// own goroutine when the user presses r.
func NewModel(projectPath string, policy orchestrator.Policy, rerun func()) Model {
	return Model{
		projectPath: projectPath,
		policy:      policy,
		rerun:       rerun,
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		durationHistory: make([]float64, 0, historySize),
		passHistory:     make([]float64, 0, historySize),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.rerun == nil || m.running {
				return m, nil
			}
			rerun := m.rerun
			return m, func() tea.Msg {
				rerun()
				return nil
			}
		}

	case RunStartedMsg:
		m.runs++
		m.running = true
		m.startedAt = msg.At
		m.total = msg.Total
		m.completed = 0
		m.gates = m.gates[:0]
		m.changed = msg.Changed
		m.lastErr = nil
		return m, nil

	case GateMsg:
		m.completed = msg.Completed
		if msg.Total > 0 {
			m.total = msg.Total
		}
		m.gates = append(m.gates, gateRow{tool: msg.Tool, status: msg.Status, cached: msg.Cached})
		return m, nil

	case RunFinishedMsg:
		m.running = false
		m.lastErr = msg.Err
		if msg.Outcome != nil {
			m.last = msg.Outcome
			m.gates = m.gates[:0]
			for _, r := range msg.Outcome.Results {
				m.gates = append(m.gates, gateRow{tool: r.Tool, status: r.Status})
			}
			m.completed = len(msg.Outcome.Results)
			m.total = len(msg.Outcome.Results)
			m.durationHistory = appendToHistory(m.durationHistory, msg.Outcome.Duration.Seconds())
			m.passHistory = appendToHistory(m.passHistory, passRatio(msg.Outcome)*100)
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" reviewgate watch ") + "   " + m.statusBadge() + "\n")
	b.WriteString(labelStyle.Render("Project: ") + valueStyle.Render(m.projectPath) +
		dimStyle.Render(fmt.Sprintf("   policy=%s   runs=%d", m.policy, m.runs)) + "\n")

	if len(m.changed) > 0 {
		shown := m.changed
		more := ""
		if len(shown) > maxChangedShown {
			more = fmt.Sprintf(" (+%d more)", len(shown)-maxChangedShown)
			shown = shown[:maxChangedShown]
		}
		b.WriteString(labelStyle.Render("Changed: ") + dimStyle.Render(strings.Join(shown, ", ")+more) + "\n")
	}

	b.WriteString(sectionStyle.Render("┃ Gates") + "\n")
	percent := 0.0
	if m.total > 0 {
		percent = float64(m.completed) / float64(m.total)
	}
	b.WriteString(labelStyle.Render("  Progress: ") + m.progress.ViewAs(percent) +
		" " + dimStyle.Render(fmt.Sprintf("%d/%d", m.completed, m.total)) + "\n")
	if len(m.gates) == 0 {
		b.WriteString(dimStyle.Render("  waiting for changes...") + "\n")
	}
	for _, g := range m.gates {
		line := "  " + gateBadge(g.status) + " " + fmt.Sprintf("%-12s", g.tool) + " " + string(g.status)
		if g.cached {
			line += dimStyle.Render(" (cached)")
		}
		b.WriteString(line + "\n")
	}

	if m.last != nil {
		b.WriteString(sectionStyle.Render("┃ Last Run") + "\n")
		b.WriteString(labelStyle.Render("  Overall: ") + valueStyle.Render(string(m.last.Overall)) +
			dimStyle.Render("  in "+report.FormatDuration(m.last.Duration)) + "\n")
		for _, s := range m.last.Suggestions {
			b.WriteString(dimStyle.Render("  → "+s.Tool+": ") + s.Command + "\n")
		}
		b.WriteString(labelStyle.Render("  Duration: ") + createSparkline(m.durationHistory) + "\n")
		b.WriteString(labelStyle.Render("  Passed %: ") + createSparkline(m.passHistory) + "\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n" + errorStyle.Render("⚠ "+m.lastErr.Error()) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ")
	if m.rerun != nil {
		footer += footerKeyStyle.Render("[r]") + footerStyle.Render(" rerun")
	}
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func (m Model) statusBadge() string {
	switch {
	case m.running:
		return warningStyle.Render("● RUNNING")
	case m.lastErr != nil:
		return errorStyle.Render("✗ ERROR")
	case m.last == nil:
		return dimStyle.Render("○ IDLE")
	case m.last.Overall == orchestrator.OverallAllPassed:
		return healthyStyle.Render("✓ PASSING")
	default:
		return errorStyle.Render("✗ FAILING")
	}
}

func gateBadge(s orchestrator.Status) string {
	switch s {
	case orchestrator.StatusPassed:
		return healthyStyle.Render("[✓]")
	case orchestrator.StatusSkipped:
		return dimStyle.Render("[–]")
	case orchestrator.StatusTimedOut:
		return warningStyle.Render("[⏱]")
	default:
		return errorStyle.Render("[✗]")
	}
}

func passRatio(o *orchestrator.AggregateOutcome) float64 {
	if len(o.Results) == 0 {
		return 0
	}
	return float64(o.Count(orchestrator.StatusPassed)) / float64(len(o.Results))
}

// appendToHistory appends a value, keeping at most historySize entries.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
