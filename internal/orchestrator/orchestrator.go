package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Orchestrator sequences gates under a policy and folds their results.
// It holds no process logic of its own; every gate goes through the Executor.
type Orchestrator struct {
	executor    *Executor
	maxParallel int
	metrics     *Metrics
	logger      *zap.Logger
	progress    ProgressCallback
}

// New creates an orchestrator over executor.
func New(executor *Executor) *Orchestrator {
	return &Orchestrator{
		executor: executor,
		logger:   zap.NewNop(),
	}
}

// SetMaxParallel caps the worker pool for the parallel-safe group.
// Zero or less means one worker per parallel-safe descriptor.
func (o *Orchestrator) SetMaxParallel(n int) {
	o.maxParallel = n
}

// SetMetrics sets the metrics tracker for this orchestrator.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetLogger sets the logger for this orchestrator.
func (o *Orchestrator) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	o.logger = l
}

// OnProgress sets the progress callback. The callback may be invoked from
// several goroutines but never concurrently.
func (o *Orchestrator) OnProgress(callback ProgressCallback) {
	o.progress = callback
}

// RunAll runs descriptors against projectPath and returns the aggregate.
//
// Parallel-safe descriptors run first, concurrently when concurrent is true,
// and sequential-only descriptors run afterwards in declared order. Under
// PolicyStrict the first non-passed result stops further dispatch: gates not
// yet started are reported as skipped while gates already in flight finish
// normally. Under PolicyProgressive every gate runs.
//
// The error is non-nil only for contract violations, detected before any
// gate starts, or when ctx is cancelled mid-run; in the latter case the
// partial outcome is returned alongside the error.
func (o *Orchestrator) RunAll(ctx context.Context, descriptors []*Descriptor, projectPath string, policy Policy, concurrent bool) (*AggregateOutcome, error) {
	if err := validateRun(descriptors, projectPath, policy); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID))
	ctx, span := tracer.Start(ctx, "orchestrator.run_all")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.policy", string(policy)),
		attribute.Bool("run.concurrent", concurrent),
		attribute.Int("run.gates", len(descriptors)),
	)

	start := time.Now()
	r := &run{
		orch:        o,
		ctx:         ctx,
		descriptors: descriptors,
		projectPath: projectPath,
		strict:      policy == PolicyStrict,
		results:     make([]GateResult, len(descriptors)),
		cached:      make([]bool, len(descriptors)),
	}

	parallel, sequential := partition(descriptors)
	logger.Info("orchestration started",
		zap.String("policy", string(policy)),
		zap.Bool("concurrent", concurrent),
		zap.Int("parallel_safe", len(parallel)),
		zap.Int("sequential_only", len(sequential)))

	if concurrent && len(parallel) > 1 {
		r.runConcurrent(parallel, o.poolSize(len(parallel)))
	} else {
		r.runSequential(parallel)
	}
	r.runSequential(sequential)

	outcome := &AggregateOutcome{
		RunID:       runID,
		Policy:      policy,
		Concurrent:  concurrent,
		Results:     r.results,
		Overall:     overallStatus(r.results),
		Suggestions: suggestions(descriptors, r.results),
		Duration:    time.Since(start),
	}
	for i, hit := range r.cached {
		if hit {
			outcome.CacheHits = append(outcome.CacheHits, descriptors[i].Name)
		}
	}

	span.SetAttributes(attribute.String("run.overall", string(outcome.Overall)))
	o.metrics.RecordRun(policy, outcome.Overall, outcome.Duration)
	logger.Info("orchestration finished",
		zap.String("overall", string(outcome.Overall)),
		zap.Int("passed", outcome.Count(StatusPassed)),
		zap.Int("skipped", outcome.Count(StatusSkipped)),
		zap.Int("cache_hits", len(outcome.CacheHits)),
		zap.Duration("duration", outcome.Duration))

	if err := ctx.Err(); err != nil {
		return outcome, fmt.Errorf("run cancelled: %w", err)
	}
	return outcome, nil
}

func (o *Orchestrator) poolSize(n int) int {
	if o.maxParallel > 0 && o.maxParallel < n {
		return o.maxParallel
	}
	return n
}

// run is the mutable state of one RunAll call.
type run struct {
	orch        *Orchestrator
	ctx         context.Context
	descriptors []*Descriptor
	projectPath string
	strict      bool
	aborted     atomic.Bool

	// results and cached are indexed by descriptor position; each slot is
	// written by exactly one goroutine.
	results []GateResult
	cached  []bool

	mu        sync.Mutex
	completed int
}

func (r *run) runSequential(indices []int) {
	for _, i := range indices {
		r.dispatch(i)
	}
}

func (r *run) runConcurrent(indices []int, limit int) {
	var g errgroup.Group
	g.SetLimit(limit)
	for _, i := range indices {
		if r.stopped() {
			r.skip(i)
			continue
		}
		g.Go(func() error {
			r.dispatch(i)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch runs descriptor i unless the run has been stopped, in which case
// the slot resolves to skipped without starting anything.
func (r *run) dispatch(i int) {
	if r.stopped() {
		r.skip(i)
		return
	}

	d := r.descriptors[i]
	result, hit := r.orch.executor.runGate(r.ctx, d, r.projectPath)
	r.results[i] = result
	r.cached[i] = hit

	if r.strict && !result.Passed() {
		if r.aborted.CompareAndSwap(false, true) {
			r.orch.logger.Info("strict policy stops dispatch",
				zap.String("gate", d.Name),
				zap.String("status", string(result.Status)))
		}
	}
	r.report(d.Name, result.Status, hit)
}

func (r *run) skip(i int) {
	r.results[i] = GateResult{Tool: r.descriptors[i].Name, Status: StatusSkipped}
	r.report(r.descriptors[i].Name, StatusSkipped, false)
}

func (r *run) stopped() bool {
	return r.aborted.Load() || r.ctx.Err() != nil
}

func (r *run) report(tool string, status Status, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	if r.orch.progress != nil {
		r.orch.progress(Progress{
			Tool:      tool,
			Status:    status,
			Cached:    cached,
			Completed: r.completed,
			Total:     len(r.descriptors),
		})
	}
}

// partition splits descriptor indices by concurrency class, keeping order.
func partition(descriptors []*Descriptor) (parallel, sequential []int) {
	for i, d := range descriptors {
		if d.EffectiveConcurrency() == ParallelSafe {
			parallel = append(parallel, i)
		} else {
			sequential = append(sequential, i)
		}
	}
	return parallel, sequential
}

// suggestions lists one recovery entry per result that ran and did not pass,
// in descriptor order.
func suggestions(descriptors []*Descriptor, results []GateResult) []RecoverySuggestion {
	out := make([]RecoverySuggestion, 0, len(results))
	for i, res := range results {
		if res.Status == StatusPassed || res.Status == StatusSkipped {
			continue
		}
		d := descriptors[i]
		out = append(out, RecoverySuggestion{
			Tool:        d.Name,
			Status:      res.Status,
			Command:     d.Recovery,
			Description: d.RecoveryDescription,
			Priority:    d.RecoveryPriority,
		})
	}
	return out
}

// validateRun rejects the run before anything starts.
func validateRun(descriptors []*Descriptor, projectPath string, policy Policy) error {
	if len(descriptors) == 0 {
		return &ContractError{Err: ErrNoDescriptors, Reason: "at least one descriptor is required"}
	}
	if policy != PolicyStrict && policy != PolicyProgressive {
		return &ContractError{Err: ErrInvalidPolicy, Reason: fmt.Sprintf("unknown policy %q", policy)}
	}

	var errs []error
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[d.Name] {
			errs = append(errs, &ContractError{Tool: d.Name, Err: ErrDuplicateTool, Reason: "tool names must be unique within a run"})
		}
		seen[d.Name] = true
	}
	if err := ValidateProjectPath(projectPath); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
