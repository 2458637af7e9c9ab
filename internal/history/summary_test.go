package history

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

func gate(tool string, status orchestrator.Status) orchestrator.GateResult {
	return orchestrator.GateResult{Tool: tool, Status: status}
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil)
	assert.Zero(t, sum.Runs)
	assert.Equal(t, HealthUnknown, sum.Health)
	assert.Nil(t, sum.Latest)

	var b strings.Builder
	require.NoError(t, WriteSummary(&b, sum))
	assert.Contains(t, b.String(), "No runs recorded.")
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	latest := outcome(orchestrator.OverallPartial,
		gate("formatter", orchestrator.StatusPassed),
		gate("linter", orchestrator.StatusTimedOut),
		gate("tests", orchestrator.StatusSkipped),
	)
	latest.Suggestions = []orchestrator.RecoverySuggestion{
		{Tool: "linter", Status: orchestrator.StatusTimedOut, Command: "pylint .", Description: "Fix the reported linting issues", Priority: "medium"},
	}
	runs := []Run{
		{ID: "a", GeneratedAt: start, Outcome: outcome(orchestrator.OverallAllPassed,
			gate("formatter", orchestrator.StatusPassed),
			gate("linter", orchestrator.StatusPassed),
			gate("tests", orchestrator.StatusPassed),
		)},
		{ID: "b", GeneratedAt: start.Add(time.Hour), Outcome: outcome(orchestrator.OverallAllFailed,
			gate("formatter", orchestrator.StatusFailed),
			gate("linter", orchestrator.StatusError),
			gate("tests", orchestrator.StatusPassed),
		)},
		{ID: "c", GeneratedAt: start.Add(2 * time.Hour), SkipReason: "quality gates did not pass (strict policy)", Outcome: latest},
	}

	sum := Summarize(runs)
	assert.Equal(t, 3, sum.Runs)
	assert.Equal(t, start, sum.First)
	assert.Equal(t, start.Add(2*time.Hour), sum.Last)
	assert.Equal(t, map[orchestrator.OverallStatus]int{
		orchestrator.OverallAllPassed: 1,
		orchestrator.OverallAllFailed: 1,
		orchestrator.OverallPartial:   1,
	}, sum.Overall)
	assert.Equal(t, []GateTrend{
		{Gate: "formatter", Passed: 2, Failed: 1},
		{Gate: "linter", Passed: 1, Failed: 2},
		{Gate: "tests", Passed: 2, Skipped: 1},
	}, sum.Gates)

	// 5 of 8 finished gates passed; skipped results are excluded.
	assert.InDelta(t, 0.625, sum.PassRate, 1e-9)
	assert.Equal(t, HealthFair, sum.Health)
	require.NotNil(t, sum.Latest)
	assert.Equal(t, "c", sum.Latest.ID)
	assert.Equal(t, latest.Suggestions, sum.Recommendations)

	var b strings.Builder
	require.NoError(t, WriteSummary(&b, sum))
	out := b.String()
	assert.Contains(t, out, "- **Runs**: 3")
	assert.Contains(t, out, "- **Health**: fair (62% of finished gates passed)")
	assert.Contains(t, out, "| linter | 1 | 2 | 0 |")
	assert.Contains(t, out, "- partial: 1")
	assert.Contains(t, out, "## Latest Run (c)")
	assert.Contains(t, out, "Review skipped: quality gates did not pass (strict policy).")
	assert.Contains(t, out, "- **linter** [medium]: `pylint .` - Fix the reported linting issues")
}

func TestSummarize_HealthGrades(t *testing.T) {
	tests := []struct {
		passed, failed int
		want           string
	}{
		{4, 1, HealthGood},
		{3, 2, HealthFair},
		{1, 1, HealthNeedsImprovement},
		{0, 0, HealthUnknown},
	}
	for _, tt := range tests {
		var results []orchestrator.GateResult
		for i := 0; i < tt.passed; i++ {
			results = append(results, gate("tests", orchestrator.StatusPassed))
		}
		for i := 0; i < tt.failed; i++ {
			results = append(results, gate("tests", orchestrator.StatusFailed))
		}
		results = append(results, gate("linter", orchestrator.StatusSkipped))
		sum := Summarize([]Run{{Outcome: outcome(orchestrator.OverallPartial, results...)}})
		assert.Equal(t, tt.want, sum.Health, "%d passed, %d failed", tt.passed, tt.failed)
	}
}

func TestStore_SaveSummary(t *testing.T) {
	s, err := New(t.TempDir(), true)
	require.NoError(t, err)
	_, err = s.Save(partialReport(time.Now()))
	require.NoError(t, err)

	runs, err := s.Runs()
	require.NoError(t, err)
	sum := Summarize(runs)

	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	mdPath, jsonPath, err := s.SaveSummary(sum, at)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(mdPath, "reports/report_2026-03-14_10-00-00.md"), mdPath)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# reviewgate History")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1, decoded.Runs)
	assert.Equal(t, HealthNeedsImprovement, decoded.Health)
	assert.Len(t, decoded.Gates, 3)
}
