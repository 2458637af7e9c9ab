package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/cache"
	"github.com/fyrsmithlabs/reviewgate/internal/config"
	"github.com/fyrsmithlabs/reviewgate/internal/history"
	httpapi "github.com/fyrsmithlabs/reviewgate/internal/http"
	"github.com/fyrsmithlabs/reviewgate/internal/logging"
	"github.com/fyrsmithlabs/reviewgate/internal/mcp"
	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/report"
	"github.com/fyrsmithlabs/reviewgate/internal/review"
	"github.com/fyrsmithlabs/reviewgate/internal/telemetry"
)

const (
	meterName       = "github.com/fyrsmithlabs/reviewgate"
	sqliteFileName  = "results.db"
	shutdownTimeout = 5 * time.Second
)

// app holds one fully wired engine.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	runner    orchestrator.ProcessRunner
	cache     *cache.Cache
	orch      *orchestrator.Orchestrator
	recorder  *telemetry.RunRecorder
	reviewer  *review.CommandReviewer
	scrubber  review.Scrubber
	status    *httpapi.Tracker
	// history is nil unless history.dir is set.
	history *history.Store

	// runMu serializes runs; MCP clients may call concurrently.
	runMu sync.Mutex

	closeStore func() error
}

// loadConfig resolves configuration from the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ProjectPath: projectPath,
		ProjectType: projectType,
		ConfigFile:  configFile,
	})
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// newApp initializes dependencies in order:
//  1. Telemetry (the logger may export through it)
//  2. Logger
//  3. Result cache over the configured store
//  4. Executor and orchestrator sharing one Prometheus registry
//  5. Secret scrubber and reviewer, created once so the rate limit spans runs
//  6. Run history, when a history directory is configured
//
// A nil runner uses orchestrator.NewExecRunner.
func newApp(ctx context.Context, cfg *config.Config, runner orchestrator.ProcessRunner) (*app, error) {
	if runner == nil {
		runner = orchestrator.NewExecRunner()
	}
	a := &app{
		cfg:        cfg,
		registry:   prometheus.NewRegistry(),
		runner:     runner,
		status:     httpapi.NewTracker(cfg.Project.Path, version),
		closeStore: func() error { return nil },
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, usageError(fmt.Errorf("failed to initialize telemetry: %w", err))
	}
	a.telemetry = tel

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, usageError(err)
	}
	var provider log.LoggerProvider
	if logCfg.Output.OTEL {
		provider = tel.LoggerProvider()
	}
	logger, err := logging.NewLogger(logCfg, provider)
	if err != nil {
		return nil, usageError(fmt.Errorf("failed to initialize logger: %w", err))
	}
	a.logger = logger

	if health := tel.Health(); health.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Errors("problems", health.Problems))
	}

	if err := a.initCache(); err != nil {
		return nil, err
	}

	metrics := orchestrator.NewMetrics(a.registry)
	executor := orchestrator.NewExecutor(runner, a.cache)
	executor.SetMetrics(metrics)
	executor.SetLogger(logger.Underlying())

	a.orch = orchestrator.New(executor)
	a.orch.SetMaxParallel(cfg.Policy.MaxParallel)
	a.orch.SetMetrics(metrics)
	a.orch.SetLogger(logger.Underlying())

	recorder, err := telemetry.NewRunRecorder(tel.Meter(meterName))
	if err != nil {
		logger.Warn(ctx, "run recorder unavailable", zap.Error(err))
	}
	a.recorder = recorder

	a.scrubber = review.NopScrubber{}
	if cfg.Review.ScrubSecrets {
		allowlist, err := review.LoadAllowlist(cfg.Project.Path)
		if err != nil {
			return nil, usageError(err)
		}
		scrubber, err := review.NewGitleaksScrubber(allowlist)
		if err != nil {
			return nil, fmt.Errorf("create secret scrubber: %w", err)
		}
		a.scrubber = scrubber
	}

	rc := cfg.Review
	a.reviewer = review.NewCommandReviewer(runner, review.CommandConfig{
		Command:   rc.Command,
		Args:      rc.Args,
		Timeout:   rc.Timeout.Duration(),
		APIKey:    rc.APIKey,
		APIKeyEnv: rc.APIKeyEnv,
		Retry: review.RetryConfig{
			MaxAttempts:    rc.MaxRetries,
			InitialBackoff: rc.RetryDelay.Duration(),
		},
		DryRun:       rc.DryRun,
		MaxPerMinute: rc.MaxPerMinute,
	})
	a.reviewer.SetLogger(logger.Underlying())

	if cfg.History.Dir != "" {
		store, err := history.New(cfg.History.Dir, cfg.History.Timestamped)
		if err != nil {
			return nil, usageError(err)
		}
		store.SetLogger(logger.Underlying())
		a.history = store
	}

	return a, nil
}

func (a *app) initCache() error {
	if !a.cfg.Cache.Enabled {
		a.cache = cache.Disabled()
		return nil
	}
	store, closeStore, err := openStore(a.cfg.Cache)
	if err != nil {
		return usageError(err)
	}
	a.closeStore = closeStore
	a.cache = cache.New(store, cache.WithTTL(a.cfg.Cache.TTL.Duration()))
	a.cache.SetMetrics(cache.NewMetrics(a.registry))
	a.cache.SetLogger(a.logger.Underlying())
	return nil
}

// openStore opens the backend named by cfg.Backend.
func openStore(cfg config.CacheConfig) (cache.Store, func() error, error) {
	noop := func() error { return nil }
	if cfg.Backend == "memory" {
		return cache.NewMemoryStore(), noop, nil
	}

	dir := cfg.Dir
	if dir == "" {
		var err error
		if dir, err = cache.DefaultDir(); err != nil {
			return nil, nil, err
		}
	}

	switch cfg.Backend {
	case "sqlite":
		s, err := cache.OpenSQLiteStore(filepath.Join(dir, sqliteFileName))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := cache.NewFileStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	}
}

// Close releases the store and flushes telemetry.
func (a *app) Close() error {
	var errs []error
	if err := a.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close cache store: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
	return errors.Join(errs...)
}

// runGates runs every enabled gate once under the configured policy.
func (a *app) runGates(ctx context.Context, onProgress orchestrator.ProgressCallback) (*orchestrator.AggregateOutcome, error) {
	return a.run(ctx, mcp.RunOptions{}, onProgress)
}

func (a *app) run(ctx context.Context, opts mcp.RunOptions, onProgress orchestrator.ProgressCallback) (*orchestrator.AggregateOutcome, error) {
	descriptors, err := a.cfg.Descriptors()
	if err != nil {
		return nil, usageError(err)
	}
	if len(opts.Only) > 0 {
		if descriptors, err = only(descriptors, opts.Only); err != nil {
			return nil, usageError(err)
		}
	}
	policy, err := orchestrator.ParsePolicy(a.cfg.Policy.Mode)
	if err != nil {
		return nil, usageError(err)
	}
	if opts.Progressive {
		policy = orchestrator.PolicyProgressive
	}

	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.status.Started(len(descriptors))
	ctx = logging.WithProject(ctx, a.cfg.Project.Path)
	a.orch.OnProgress(onProgress)
	outcome, err := a.orch.RunAll(ctx, descriptors, a.cfg.Project.Path, policy, a.cfg.Policy.Parallel)
	a.status.Finished(outcome, err)
	if err != nil {
		if orchestrator.IsContractError(err) {
			return nil, usageError(err)
		}
		return outcome, err
	}
	a.recorder.Record(ctx, outcome)
	return outcome, nil
}

// only keeps the named descriptors, preserving run order.
func only(descriptors []*orchestrator.Descriptor, names []string) ([]*orchestrator.Descriptor, error) {
	byName := make(map[string]*orchestrator.Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := byName[n]; !ok {
			return nil, fmt.Errorf("unknown tool %q", n)
		}
		keep[n] = true
	}
	out := make([]*orchestrator.Descriptor, 0, len(keep))
	for _, d := range descriptors {
		if keep[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Run implements mcp.Engine.
func (a *app) Run(ctx context.Context, opts mcp.RunOptions) (*orchestrator.AggregateOutcome, error) {
	return a.run(ctx, opts, nil)
}

// Review implements mcp.Engine.
func (a *app) Review(ctx context.Context, outcome *orchestrator.AggregateOutcome) (string, string) {
	return a.reviewOutcome(ctx, outcome)
}

// Descriptors implements mcp.Engine.
func (a *app) Descriptors() ([]*orchestrator.Descriptor, error) {
	return a.cfg.Descriptors()
}

// ClearCache implements mcp.Engine.
func (a *app) ClearCache() error {
	return a.cache.Clear()
}

// reviewOutcome runs the AI review when outcome allows it. It returns the
// response, or a reason the review was skipped. Reviewer failures become a
// skip reason; they never change the gate verdict.
func (a *app) reviewOutcome(ctx context.Context, outcome *orchestrator.AggregateOutcome) (string, string) {
	rc := a.cfg.Review
	switch {
	case !rc.Enabled:
		return "", "review disabled"
	case !outcome.ReviewAllowed():
		return "", fmt.Sprintf("quality gates did not pass (%s policy)", outcome.Policy)
	}

	diff := ""
	if rc.IncludeDiff {
		d, err := review.GitDiff(ctx, a.runner, a.cfg.Project.Path)
		switch {
		case errors.Is(err, review.ErrNotGitRepo):
			a.logger.Debug(ctx, "not a git repository, diff omitted")
		case err != nil:
			a.logger.Warn(ctx, "git diff failed, diff omitted", zap.Error(err))
		default:
			diff = d
		}
	}

	text := review.BuildContext(outcome, diff, review.ContextConfig{
		ProjectPath:        a.cfg.Project.Path,
		IncludeDiff:        rc.IncludeDiff,
		IncludeTestResults: rc.IncludeTestResults,
		MaxLines:           rc.MaxLines,
		TestTools:          a.testTools(),
	})

	scrubbed, findings, err := a.scrubber.Scrub(text)
	if err != nil {
		a.logger.Warn(ctx, "secret scrubbing failed, review skipped", zap.Error(err))
		return "", "secret scrubbing failed: " + err.Error()
	}
	if len(findings) > 0 {
		a.logger.Warn(ctx, "secrets redacted from review context", zap.Int("count", len(findings)))
	}
	text = scrubbed

	resp, err := a.reviewer.Review(ctx, review.Request{
		Prompt:      rc.Prompt,
		Context:     text,
		ProjectPath: a.cfg.Project.Path,
	})
	switch {
	case errors.Is(err, review.ErrRateLimited):
		return "", fmt.Sprintf("review rate limit reached (%d per minute)", rc.MaxPerMinute)
	case err != nil:
		a.logger.Warn(ctx, "review failed", zap.Error(err))
		return "", "review failed: " + err.Error()
	}
	return resp, ""
}

// testTools names the sequential-only gates, whose output is the test
// results section of the review context.
func (a *app) testTools() []string {
	descriptors, _ := a.cfg.Descriptors()
	var names []string
	for _, d := range descriptors {
		if d.EffectiveConcurrency() == orchestrator.SequentialOnly {
			names = append(names, d.Name)
		}
	}
	return names
}

// newReport assembles the report for one run.
func (a *app) newReport(outcome *orchestrator.AggregateOutcome, resp, skipReason string) report.Report {
	_, gitErr := review.RepoRoot(a.cfg.Project.Path)
	return report.Report{
		ProjectPath: a.cfg.Project.Path,
		ProjectType: a.cfg.Project.Type,
		IsGitRepo:   gitErr == nil,
		Outcome:     outcome,
		Review:      resp,
		SkipReason:  skipReason,
		GeneratedAt: time.Now(),
	}
}

// saveHistory records rep in the run history and returns the run
// directory, or "" when no history is configured.
func (a *app) saveHistory(rep report.Report) (string, error) {
	if a.history == nil {
		return "", nil
	}
	dir, err := a.history.Save(rep)
	if err != nil {
		return "", fmt.Errorf("save run history: %w", err)
	}
	return dir, nil
}

// writeMetrics writes the registry to a node-exporter textfile.
func (a *app) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
