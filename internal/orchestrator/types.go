package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome of a single gate
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// ConcurrencyClass controls whether a gate may share the worker pool
type ConcurrencyClass string

const (
	ParallelSafe   ConcurrencyClass = "parallel-safe"
	SequentialOnly ConcurrencyClass = "sequential-only"
)

// Policy decides what happens after a gate does not pass
type Policy string

const (
	// PolicyStrict stops dispatching gates after the first non-passed result.
	PolicyStrict Policy = "strict"
	// PolicyProgressive runs every gate regardless of earlier results.
	PolicyProgressive Policy = "progressive"
)

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyStrict, PolicyProgressive:
		return p, nil
	case "":
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown policy %q (want strict or progressive)", s)
	}
}

// OverallStatus summarizes an orchestration run
type OverallStatus string

const (
	OverallAllPassed OverallStatus = "all_passed"
	OverallPartial   OverallStatus = "partial"
	OverallAllFailed OverallStatus = "all_failed"
)

// DefaultTimeout applies to descriptors that leave Timeout unset.
const DefaultTimeout = 300 * time.Second

// Descriptor describes how to invoke and classify one gate.
// Descriptors are owned by configuration and must not be mutated once
// handed to the engine.
type Descriptor struct {
	Name        string           `json:"name"`
	Command     string           `json:"command"`
	Args        []string         `json:"args,omitempty"`
	Env         []string         `json:"env,omitempty"`
	Timeout     time.Duration    `json:"timeout"`
	Predicate   Predicate        `json:"predicate"`
	Concurrency ConcurrencyClass `json:"concurrency"`

	// Recovery is the command suggested when the gate does not pass.
	Recovery            string `json:"recovery,omitempty"`
	RecoveryDescription string `json:"recovery_description,omitempty"`
	RecoveryPriority    string `json:"recovery_priority,omitempty"`
}

// EffectiveTimeout returns the timeout enforced for the descriptor.
func (d *Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout == 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// CommandLine renders the invocation for display.
func (d *Descriptor) CommandLine() string {
	return strings.TrimSpace(d.Command + " " + strings.Join(d.Args, " "))
}

// Validate checks the descriptor for contract violations.
func (d *Descriptor) Validate() error {
	if d == nil {
		return &ContractError{Err: ErrInvalidDescriptor, Reason: "descriptor is nil"}
	}
	if strings.TrimSpace(d.Name) == "" {
		return &ContractError{Err: ErrInvalidDescriptor, Reason: "name is empty"}
	}
	if strings.TrimSpace(d.Command) == "" {
		return &ContractError{Tool: d.Name, Err: ErrInvalidDescriptor, Reason: "command is empty"}
	}
	if d.Timeout < 0 {
		return &ContractError{Tool: d.Name, Err: ErrInvalidDescriptor, Reason: fmt.Sprintf("negative timeout %s", d.Timeout)}
	}
	switch d.Concurrency {
	case ParallelSafe, SequentialOnly, "":
	default:
		return &ContractError{Tool: d.Name, Err: ErrInvalidDescriptor, Reason: fmt.Sprintf("unknown concurrency class %q", d.Concurrency)}
	}
	if err := d.Predicate.Validate(); err != nil {
		return &ContractError{Tool: d.Name, Err: ErrInvalidDescriptor, Reason: err.Error()}
	}
	return nil
}

// EffectiveConcurrency returns the concurrency class, treating an unset class as
// sequential-only.
func (d *Descriptor) EffectiveConcurrency() ConcurrencyClass {
	if d.Concurrency == "" {
		return SequentialOnly
	}
	return d.Concurrency
}

// GateResult is the immutable outcome of one gate in one run.
type GateResult struct {
	Tool     string        `json:"tool"`
	Status   Status        `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`
	Duration time.Duration `json:"duration"`
	Recovery string        `json:"recovery,omitempty"`
}

// Passed reports whether the gate passed.
func (r GateResult) Passed() bool {
	return r.Status == StatusPassed
}

// Output returns stdout followed by stderr.
func (r GateResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// RecoverySuggestion is a human-actionable command for a gate that did not pass
type RecoverySuggestion struct {
	Tool        string `json:"tool"`
	Status      Status `json:"status"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// AggregateOutcome is the read-only result of one orchestration run.
type AggregateOutcome struct {
	RunID       string               `json:"run_id,omitempty"`
	Policy      Policy               `json:"policy"`
	Concurrent  bool                 `json:"concurrent"`
	Results     []GateResult         `json:"results"`
	Overall     OverallStatus        `json:"overall"`
	Suggestions []RecoverySuggestion `json:"suggestions"`
	CacheHits   []string             `json:"cache_hits,omitempty"`
	Duration    time.Duration        `json:"duration"`
}

// ReviewAllowed reports whether the review stage may run on this outcome.
// Strict runs require every gate to pass; progressive runs always proceed.
func (o *AggregateOutcome) ReviewAllowed() bool {
	if o.Policy == PolicyProgressive {
		return true
	}
	return o.Overall == OverallAllPassed
}

// Count returns the number of results with the given status.
func (o *AggregateOutcome) Count(status Status) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Result returns the result for the named tool.
func (o *AggregateOutcome) Result(tool string) (GateResult, bool) {
	for _, r := range o.Results {
		if r.Tool == tool {
			return r, true
		}
	}
	return GateResult{}, false
}

// overallStatus folds results into an OverallStatus.
func overallStatus(results []GateResult) OverallStatus {
	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}
	switch passed {
	case len(results):
		return OverallAllPassed
	case 0:
		return OverallAllFailed
	default:
		return OverallPartial
	}
}

// Progress reports a gate transition during a run
type Progress struct {
	Tool      string `json:"tool"`
	Status    Status `json:"status"`
	Cached    bool   `json:"cached"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ProgressCallback receives progress updates during execution
type ProgressCallback func(progress Progress)

func intPtr(v int) *int {
	return &v
}
