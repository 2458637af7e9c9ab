// Package orchestrator runs quality gates against a project and folds their
// outcomes into a single verdict.
//
// # Overview
//
// A gate is one external tool (formatter, linter, security scanner, test
// runner) described by a Descriptor. The package decides run order,
// concurrency, failure policy and result caching, and produces an
// AggregateOutcome with recovery suggestions for every gate that ran and did
// not pass.
//
// # Architecture
//
//	caller
//	  │ RunAll(descriptors, projectPath, policy, concurrent)
//	  ▼
//	Orchestrator ── partitions by ConcurrencyClass, applies Policy
//	  │ runGate
//	  ▼
//	Executor ── ResultCache.Get ─┐
//	  │ miss                      │ hit: returned unmodified
//	  ▼                           │
//	ProcessRunner ─ Predicate ─ ResultCache.Set
//
// # Key Components
//
//   - Descriptor: command, arguments, timeout, Predicate, ConcurrencyClass
//     and recovery command for one gate.
//   - Predicate: tagged success rule (exit code, absence of markers,
//     presence and absence of markers) evaluated over the captured output.
//   - ProcessRunner: capability interface over process execution. ExecRunner
//     is the os/exec implementation; tests use fakes.
//   - Executor: runs one gate with cache lookup, timeout and classification.
//   - Orchestrator: sequences gates under PolicyStrict or PolicyProgressive.
//
// # Usage Example
//
//	exec := orchestrator.NewExecutor(orchestrator.NewExecRunner(), resultCache)
//	orch := orchestrator.New(exec)
//	outcome, err := orch.RunAll(ctx, descriptors, "/src/app", orchestrator.PolicyStrict, true)
//	if err != nil {
//	    return err // contract violation, nothing ran
//	}
//	if outcome.ReviewAllowed() {
//	    // hand outcome to the review stage
//	}
//
// # Design Decisions
//
// Tool failure is data. Failed, timed-out and unlaunchable gates are
// statuses on GateResult; the error return is reserved for malformed input,
// which is rejected before any process starts.
//
// Under PolicyStrict with concurrency enabled, a failing parallel-safe gate
// does not cancel its in-flight siblings. They finish and report their real
// status; only gates that have not been dispatched yet become skipped.
//
// Sequential-only gates always run after the whole parallel-safe group, even
// when they are declared first.
package orchestrator
