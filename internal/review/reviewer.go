package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/reviewgate/internal/config"
	"github.com/fyrsmithlabs/reviewgate/internal/logging"
	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// InputPlaceholder in reviewer arguments is replaced by the payload path.
const InputPlaceholder = "{input}"

// DryRunResponse is returned by a reviewer in dry-run mode.
const DryRunResponse = "AI review skipped (dry run mode)"

// Request is what the reviewer is asked to look at.
type Request struct {
	Prompt      string
	Context     string
	ProjectPath string
}

// Reviewer produces a review for a request. The response is opaque text.
type Reviewer interface {
	Review(ctx context.Context, req Request) (string, error)
}

// RetryConfig configures attempts against the reviewer command.
type RetryConfig struct {
	// MaxAttempts counts the first try.
	// Default: 3
	MaxAttempts int

	// InitialBackoff doubles after every failed attempt.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
}

// CommandConfig describes the reviewer command.
type CommandConfig struct {
	Command string
	// Args may contain InputPlaceholder.
	Args    []string
	Timeout time.Duration
	// APIKey is exported to the command as APIKeyEnv when both are set.
	APIKey    config.Secret
	APIKeyEnv string
	Retry     RetryConfig
	DryRun    bool
	// MaxPerMinute caps reviewer invocations. Zero means unlimited.
	MaxPerMinute int
}

// payload is the JSON document handed to the reviewer command.
type payload struct {
	Prompt      string `json:"prompt"`
	Context     string `json:"context"`
	ProjectPath string `json:"project_path"`
	Format      string `json:"format"`
	Attempt     int    `json:"attempt"`
}

// CommandReviewer runs an external command per review attempt.
type CommandReviewer struct {
	runner  orchestrator.ProcessRunner
	cfg     CommandConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	wait    func(ctx context.Context, d time.Duration) error
}

// NewCommandReviewer creates a reviewer. A nil runner uses
// orchestrator.NewExecRunner.
func NewCommandReviewer(runner orchestrator.ProcessRunner, cfg CommandConfig) *CommandReviewer {
	if runner == nil {
		runner = orchestrator.NewExecRunner()
	}
	cfg.Retry.ApplyDefaults()
	r := &CommandReviewer{
		runner: runner,
		cfg:    cfg,
		logger: zap.NewNop(),
		wait:   sleepContext,
	}
	if cfg.MaxPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxPerMinute)), cfg.MaxPerMinute)
	}
	return r
}

// SetLogger sets the logger.
func (r *CommandReviewer) SetLogger(l *zap.Logger) {
	if l != nil {
		r.logger = l.Named("review")
	}
}

// Review implements Reviewer.
func (r *CommandReviewer) Review(ctx context.Context, req Request) (string, error) {
	if r.cfg.DryRun {
		r.logger.Info("dry run, reviewer not invoked", logging.ContextFields(ctx)...)
		return DryRunResponse, nil
	}
	// One token per review, not per attempt: retries finish the same review.
	if r.limiter != nil && !r.limiter.Allow() {
		return "", ErrRateLimited
	}

	var lastErr error
	backoff := r.cfg.Retry.InitialBackoff
	for attempt := 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		response, err := r.attempt(ctx, req, attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("review recovered after retries", zap.Int("attempts", attempt))
			}
			return response, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("review canceled: %w", ctx.Err())
		}
		lastErr = err

		if attempt == r.cfg.Retry.MaxAttempts {
			break
		}
		r.logger.Warn("review attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.Retry.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := r.wait(ctx, backoff); err != nil {
			return "", fmt.Errorf("review canceled: %w", err)
		}
		backoff = min(backoff*2, r.cfg.Retry.MaxBackoff)
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrReviewerUnavailable, r.cfg.Retry.MaxAttempts, lastErr)
}

func (r *CommandReviewer) attempt(ctx context.Context, req Request, attempt int) (string, error) {
	f, err := os.CreateTemp("", "reviewgate-*.json")
	if err != nil {
		return "", fmt.Errorf("create payload file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	err = enc.Encode(payload{
		Prompt:      req.Prompt,
		Context:     req.Context,
		ProjectPath: req.ProjectPath,
		Format:      "json",
		Attempt:     attempt,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write payload file: %w", err)
	}

	args := make([]string, len(r.cfg.Args))
	for i, a := range r.cfg.Args {
		args[i] = strings.ReplaceAll(a, InputPlaceholder, path)
	}
	var env []string
	if r.cfg.APIKey.IsSet() && r.cfg.APIKeyEnv != "" {
		env = append(env, r.cfg.APIKeyEnv+"="+r.cfg.APIKey.Value())
	}

	out, err := r.runner.Run(ctx, orchestrator.Invocation{
		Command: r.cfg.Command,
		Args:    args,
		Dir:     req.ProjectPath,
		Env:     env,
		Timeout: r.cfg.Timeout,
	})
	if err != nil {
		return "", err
	}
	if out.TimedOut {
		return "", fmt.Errorf("%s timed out after %s", r.cfg.Command, r.cfg.Timeout)
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", r.cfg.Command, out.ExitCode, lastLine(out.Stderr))
	}
	return formatResponse(out.Stdout), nil
}

// formatResponse pretty-prints JSON responses and passes anything else
// through.
func formatResponse(s string) string {
	trimmed := strings.TrimSpace(s)
	if !json.Valid([]byte(trimmed)) {
		return trimmed
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return trimmed
	}
	return buf.String()
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
