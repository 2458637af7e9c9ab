package orchestrator

import (
	"fmt"
	"slices"
	"strings"
)

// PredicateKind selects how a gate's raw outcome is classified
type PredicateKind string

const (
	// PredicateExitCode passes when the exit code is a success code.
	PredicateExitCode PredicateKind = "exit_code"
	// PredicateAbsence passes when none of the Absent markers occur.
	PredicateAbsence PredicateKind = "absence"
	// PredicatePresenceAndAbsence passes when no Absent marker occurs and at
	// least one Present marker does.
	PredicatePresenceAndAbsence PredicateKind = "presence_and_absence"
)

// Predicate is a declarative success rule evaluated over exit code and
// combined output. The zero value is an exit-code predicate accepting 0.
type Predicate struct {
	Kind          PredicateKind `json:"kind,omitempty" koanf:"kind"`
	Absent        []string      `json:"absent,omitempty" koanf:"absent"`
	Present       []string      `json:"present,omitempty" koanf:"present"`
	SuccessCodes  []int         `json:"success_codes,omitempty" koanf:"success_codes"`
	RequireExit   bool          `json:"require_exit,omitempty" koanf:"require_exit"`
	CaseSensitive bool          `json:"case_sensitive,omitempty" koanf:"case_sensitive"`
}

// ExitCodeOnly returns a predicate passing on the given codes, or 0 when none
// are given.
func ExitCodeOnly(codes ...int) Predicate {
	return Predicate{Kind: PredicateExitCode, SuccessCodes: codes}
}

// Absence returns a predicate failing when any marker occurs.
func Absence(markers ...string) Predicate {
	return Predicate{Kind: PredicateAbsence, Absent: markers}
}

// PresenceAndAbsence returns a predicate failing when any absent marker
// occurs or when none of the present markers do.
func PresenceAndAbsence(absent, present []string) Predicate {
	return Predicate{Kind: PredicatePresenceAndAbsence, Absent: absent, Present: present}
}

func (p Predicate) kind() PredicateKind {
	if p.Kind == "" {
		return PredicateExitCode
	}
	return p.Kind
}

// Validate checks that the predicate is well formed.
func (p Predicate) Validate() error {
	switch p.kind() {
	case PredicateExitCode:
	case PredicateAbsence:
		if len(p.Absent) == 0 {
			return fmt.Errorf("predicate %s needs at least one absent marker", p.kind())
		}
	case PredicatePresenceAndAbsence:
		if len(p.Present) == 0 {
			return fmt.Errorf("predicate %s needs at least one present marker", p.kind())
		}
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	for _, m := range slices.Concat(p.Absent, p.Present) {
		if m == "" {
			return fmt.Errorf("predicate markers must not be empty")
		}
	}
	return nil
}

// Evaluate classifies a completed process outcome.
func (p Predicate) Evaluate(exitCode int, stdout, stderr string) bool {
	exitOK := p.exitOK(exitCode)

	switch p.kind() {
	case PredicateExitCode:
		return exitOK
	case PredicateAbsence:
		if p.RequireExit && !exitOK {
			return false
		}
		return !p.containsAny(stdout+"\n"+stderr, p.Absent)
	case PredicatePresenceAndAbsence:
		if p.RequireExit && !exitOK {
			return false
		}
		output := stdout + "\n" + stderr
		return !p.containsAny(output, p.Absent) && p.containsAny(output, p.Present)
	default:
		return false
	}
}

func (p Predicate) exitOK(code int) bool {
	if len(p.SuccessCodes) == 0 {
		return code == 0
	}
	return slices.Contains(p.SuccessCodes, code)
}

func (p Predicate) containsAny(output string, markers []string) bool {
	if !p.CaseSensitive {
		output = strings.ToLower(output)
	}
	for _, m := range markers {
		if !p.CaseSensitive {
			m = strings.ToLower(m)
		}
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// String describes the predicate for display.
func (p Predicate) String() string {
	switch p.kind() {
	case PredicateAbsence:
		return fmt.Sprintf("absence of %q", p.Absent)
	case PredicatePresenceAndAbsence:
		return fmt.Sprintf("absence of %q and presence of one of %q", p.Absent, p.Present)
	default:
		codes := p.SuccessCodes
		if len(codes) == 0 {
			codes = []int{0}
		}
		return fmt.Sprintf("exit code in %v", codes)
	}
}
