package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

func exitCode(v int) *int { return &v }

func partialOutcome() *orchestrator.AggregateOutcome {
	return &orchestrator.AggregateOutcome{
		RunID:      "run-1",
		Policy:     orchestrator.PolicyStrict,
		Concurrent: true,
		Overall:    orchestrator.OverallPartial,
		CacheHits:  []string{"formatter"},
		Duration:   2500 * time.Millisecond,
		Results: []orchestrator.GateResult{
			{Tool: "formatter", Status: orchestrator.StatusPassed, ExitCode: exitCode(0), Duration: 300 * time.Millisecond},
			{Tool: "linter", Status: orchestrator.StatusFailed, ExitCode: exitCode(2), Stdout: "app.py:3: error: undefined name", Duration: 1200 * time.Millisecond},
			{Tool: "tests", Status: orchestrator.StatusSkipped},
		},
		Suggestions: []orchestrator.RecoverySuggestion{
			{Tool: "linter", Status: orchestrator.StatusFailed, Command: "pylint .", Description: "Fix the reported linting issues", Priority: "medium"},
		},
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "3m05s", FormatDuration(185*time.Second))
}

func TestTerminal_Outcome(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	require.NoError(t, term.Outcome(Report{ProjectPath: "/src/app", ProjectType: "python", Outcome: partialOutcome()}))
	out := buf.String()

	assert.Contains(t, out, "reviewgate")
	assert.Contains(t, out, "Project: /src/app (python)")
	assert.Contains(t, out, "Policy:  strict (parallel)")
	assert.Contains(t, out, "formatter")
	assert.Contains(t, out, "PASSED")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "app.py:3: error: undefined name")
	assert.Contains(t, out, "PARTIAL: 1 passed, 1 failed, 1 skipped")
	assert.Contains(t, out, "[1 cached]")
	assert.Contains(t, out, "linter: pylint . [medium]")
	assert.Contains(t, out, "Fix the reported linting issues")
	assert.NotContains(t, out, "\x1b[", "no color when not writing to a terminal")

	assert.Less(t, strings.Index(out, "formatter"), strings.Index(out, "linter"))
}

func TestTerminal_NilOutcome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf).Outcome(Report{}))
	assert.Empty(t, buf.String())
}

func TestTerminal_Review(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	require.NoError(t, term.Review(Report{Review: "Looks fine."}))
	assert.Contains(t, buf.String(), "Looks fine.")

	buf.Reset()
	require.NoError(t, term.Review(Report{SkipReason: "quality gates failed"}))
	assert.Contains(t, buf.String(), "Skipped: quality gates failed")
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	rep := Report{
		ProjectPath: "/src/app",
		ProjectType: "python",
		IsGitRepo:   true,
		Outcome:     partialOutcome(),
		SkipReason:  "quality gates failed under strict policy",
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, WriteMarkdown(&buf, rep))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# reviewgate Report\n"))
	assert.Contains(t, out, "- **Git Repository**: Yes")
	assert.Contains(t, out, "- **Generated**: 2026-01-02T03:04:05Z")
	assert.Contains(t, out, "- **Run**: run-1")
	assert.Contains(t, out, "| formatter | ✓ PASSED | 300ms |")
	assert.Contains(t, out, "| linter | ✗ FAILED | 1.2s |")
	assert.Contains(t, out, "| tests | – SKIPPED | 0ms |")
	assert.Contains(t, out, "### linter output\n\n```\napp.py:3: error: undefined name\n```")
	assert.Contains(t, out, "- **linter** (failed): `pylint .` - Fix the reported linting issues")
	assert.Contains(t, out, "Skipped: quality gates failed under strict policy")
	assert.Contains(t, out, "**partial**: review blocked by linter.")
}

func TestWriteMarkdown_AllPassedWithReview(t *testing.T) {
	var buf bytes.Buffer
	rep := Report{
		Outcome: &orchestrator.AggregateOutcome{
			Overall: orchestrator.OverallAllPassed,
			Results: []orchestrator.GateResult{{Tool: "tests", Status: orchestrator.StatusPassed}},
		},
		Review: "No issues found.\n",
	}
	require.NoError(t, WriteMarkdown(&buf, rep))
	out := buf.String()

	assert.Contains(t, out, "## AI Review\n\nNo issues found.\n")
	assert.Contains(t, out, "**all_passed**: every quality gate passed.")
	assert.NotContains(t, out, "Recovery Suggestions")
	assert.Contains(t, out, "- **Path**: unknown")
}

func TestSaveMarkdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.md")
	require.NoError(t, SaveMarkdown(path, Report{Outcome: partialOutcome()}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Quality Gates")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file removed")
}
