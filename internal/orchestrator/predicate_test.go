package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicate_Evaluate(t *testing.T) {
	formatter := Absence("would reformat", "reformatted")
	linter := Absence("error", "fatal")
	security := Absence("severity: high", "severity: medium")
	tests := PresenceAndAbsence([]string{"failed"}, []string{"passed", "collected"})

	cases := []struct {
		name   string
		pred   Predicate
		exit   int
		stdout string
		stderr string
		want   bool
	}{
		{"formatter clean", formatter, 0, "All done!\n3 files left unchanged.", "", true},
		{"formatter would reformat", formatter, 1, "", "would reformat foo.py", false},
		{"formatter ignores exit code", formatter, 1, "", "1 file left unchanged", true},
		{"formatter case insensitive", formatter, 0, "Would Reformat bar.py", "", false},
		{"linter clean", linter, 0, "", "", true},
		{"linter error", linter, 2, "E0602: undefined-variable (error)", "", false},
		{"security high", security, 1, ">> Issue: [B105]\n   Severity: High   Confidence: Medium", "", false},
		{"security summary only", security, 0, "Total issues (by severity):\n\t\tHigh: 0", "", true},
		{"tests passed", tests, 0, "collected 4 items\n4 passed in 0.2s", "", true},
		{"tests failed", tests, 1, "3 passed, 1 failed", "", false},
		{"tests nothing collected", tests, 5, "no tests ran", "", false},
		{"exit code zero", ExitCodeOnly(), 0, "", "", true},
		{"exit code non-zero", ExitCodeOnly(), 3, "", "", false},
		{"exit code custom", ExitCodeOnly(0, 5), 5, "", "", true},
		{"zero value", Predicate{}, 0, "", "", true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Evaluate(tt.exit, tt.stdout, tt.stderr))
		})
	}
}

func TestPredicate_RequireExit(t *testing.T) {
	p := Absence(".go")
	p.RequireExit = true

	assert.True(t, p.Evaluate(0, "", ""))
	assert.False(t, p.Evaluate(2, "", "syntax error"))
	assert.False(t, p.Evaluate(0, "main.go\n", ""))
}

func TestPredicate_CaseSensitive(t *testing.T) {
	p := Absence("FAIL")
	p.CaseSensitive = true

	assert.True(t, p.Evaluate(0, "ok  \tpkg\t0.1s\nfailures: none", ""))
	assert.False(t, p.Evaluate(1, "FAIL\tpkg\t0.1s", ""))
}

func TestPredicate_Validate(t *testing.T) {
	assert.NoError(t, Predicate{}.Validate())
	assert.NoError(t, Absence("x").Validate())
	assert.Error(t, Predicate{Kind: PredicateAbsence}.Validate())
	assert.Error(t, Predicate{Kind: PredicatePresenceAndAbsence, Absent: []string{"x"}}.Validate())
	assert.Error(t, Predicate{Kind: "regex"}.Validate())
	assert.Error(t, Absence("ok", "").Validate())
}

func TestPredicate_String(t *testing.T) {
	assert.Equal(t, "exit code in [0]", Predicate{}.String())
	assert.Contains(t, Absence("error").String(), "error")
}
