package review

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// DefaultMaxLines bounds each tool output and the diff.
const DefaultMaxLines = 1000

// DefaultInstructions closes the context when no prompt is configured.
const DefaultInstructions = `Please provide a focused code review covering:
- Architecture and design patterns
- Code readability and maintainability
- Potential edge cases or bugs
- Performance considerations
- Security implications

Focus on high-value feedback since basic quality issues
have already been caught by the automated tools.`

// ContextConfig shapes BuildContext output.
type ContextConfig struct {
	ProjectPath        string
	IncludeDiff        bool
	IncludeTestResults bool
	// MaxLines caps every tool output and the diff separately. Zero means
	// DefaultMaxLines.
	MaxLines int
	// TestTools names the gates whose output forms the test results
	// section. Empty means a gate named "tests".
	TestTools    []string
	Instructions string
}

func (c ContextConfig) maxLines() int {
	if c.MaxLines <= 0 {
		return DefaultMaxLines
	}
	return c.MaxLines
}

func (c ContextConfig) isTestTool(name string) bool {
	if len(c.TestTools) == 0 {
		return name == "tests"
	}
	return slices.Contains(c.TestTools, name)
}

// BuildContext renders the review payload. Long output is truncated from the
// front because tools report failures at the end.
func BuildContext(outcome *orchestrator.AggregateOutcome, diff string, cfg ContextConfig) string {
	var b strings.Builder
	limit := cfg.maxLines()

	b.WriteString("# Project Context\n")
	if cfg.ProjectPath != "" {
		fmt.Fprintf(&b, "Project Path: %s\n", cfg.ProjectPath)
	}
	if outcome != nil {
		fmt.Fprintf(&b, "Policy: %s\nOverall: %s\n", outcome.Policy, outcome.Overall)
	}
	b.WriteString("\n# Quality Gate Results\n")

	var tests []orchestrator.GateResult
	if outcome != nil {
		for _, r := range outcome.Results {
			fmt.Fprintf(&b, "%s: %s (%s)\n", strings.ToUpper(r.Tool), strings.ToUpper(string(r.Status)), r.Duration.Round(time.Millisecond))
			if cfg.isTestTool(r.Tool) {
				tests = append(tests, r)
				b.WriteString("\n")
				continue
			}
			if out := strings.TrimSpace(r.Output()); out != "" && r.Status != orchestrator.StatusSkipped {
				b.WriteString("Output:\n")
				b.WriteString(TailLines(out, limit))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	if cfg.IncludeDiff && strings.TrimSpace(diff) != "" {
		b.WriteString("# Recent Changes (Git Diff)\n")
		b.WriteString(TailLines(strings.TrimRight(diff, "\n"), limit))
		b.WriteString("\n\n")
	}

	if cfg.IncludeTestResults {
		for _, r := range tests {
			out := strings.TrimSpace(r.Output())
			if out == "" {
				continue
			}
			fmt.Fprintf(&b, "# Test Results (%s)\n", r.Tool)
			b.WriteString(TailLines(out, limit))
			b.WriteString("\n\n")
		}
	}

	b.WriteString("# Review Instructions\n")
	instructions := strings.TrimSpace(cfg.Instructions)
	if instructions == "" {
		instructions = DefaultInstructions
	}
	b.WriteString(instructions)
	b.WriteString("\n")
	return b.String()
}

// TailLines keeps the last max lines of s, prefixing a marker with the number
// of dropped lines.
func TailLines(s string, max int) string {
	if max <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= max {
		return s
	}
	dropped := len(lines) - max
	return fmt.Sprintf("... (%d earlier lines truncated)\n%s", dropped, strings.Join(lines[dropped:], "\n"))
}
