package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultMaxOutputBytes bounds each captured stream.
const DefaultMaxOutputBytes = 256 * 1024

// Invocation is one external process to run.
type Invocation struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// ProcessOutcome is everything observable about a finished process.
type ProcessOutcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// ProcessRunner runs external processes.
//
// Run returns an error only when the process could not be started or the
// caller's context was cancelled. A non-zero exit and a timeout are
// reported through ProcessOutcome.
type ProcessRunner interface {
	Run(ctx context.Context, inv Invocation) (ProcessOutcome, error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct {
	// MaxOutputBytes caps each of stdout and stderr, keeping the tail.
	MaxOutputBytes int
	// WaitDelay bounds how long pipes are drained after the process is killed.
	WaitDelay time.Duration
}

// NewExecRunner creates a runner with default limits.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		MaxOutputBytes: DefaultMaxOutputBytes,
		WaitDelay:      2 * time.Second,
	}
}

// Run executes inv, killing the whole process group when the timeout fires.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (ProcessOutcome, error) {
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	configureProcessGroup(cmd)

	limit := r.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	outcome := ProcessOutcome{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		ExitCode: -1,
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		outcome.TimedOut = true
		return outcome, nil
	}
	if ctx.Err() != nil {
		return outcome, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		outcome.ExitCode = cmd.ProcessState.ExitCode()
		return outcome, nil
	case errors.As(err, &exitErr):
		outcome.ExitCode = exitErr.ExitCode()
		return outcome, nil
	default:
		return outcome, fmt.Errorf("launch %s: %w", inv.Command, err)
	}
}

// tailBuffer is an io.Writer keeping only the last max bytes written.
type tailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped int64
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.max {
		b.dropped += int64(len(b.buf) + n - b.max)
		b.buf = append(b.buf[:0], p[n-b.max:]...)
		return n, nil
	}
	if overflow := len(b.buf) + n - b.max; overflow > 0 {
		b.dropped += int64(overflow)
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dropped == 0 {
		return string(b.buf)
	}
	// The cut may land inside a multi-byte rune; start at the next rune.
	tail := b.buf
	skipped := 0
	for skipped < utf8.UTFMax-1 && skipped < len(tail) && !utf8.RuneStart(tail[skipped]) {
		skipped++
	}
	tail = tail[skipped:]
	return fmt.Sprintf("[... %d bytes truncated ...]\n%s", b.dropped+int64(skipped), tail)
}
