package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatterDescriptor() *Descriptor {
	return &Descriptor{
		Name:        "formatter",
		Command:     "black",
		Args:        []string{"--check", "--diff", "."},
		Timeout:     60 * time.Second,
		Predicate:   Absence("would reformat", "reformatted"),
		Concurrency: ParallelSafe,
		Recovery:    "black .",
	}
}

func TestExecutor_FormatterWouldReformat(t *testing.T) {
	runner := newFakeRunner().on("black", ProcessOutcome{Stderr: "would reformat foo.py", ExitCode: 1})
	exec := NewExecutor(runner, nil)

	result, err := exec.RunGate(context.Background(), formatterDescriptor(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "black .", result.Recovery)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 1, *result.ExitCode)
}

func TestExecutor_PassedHasNoRecovery(t *testing.T) {
	runner := newFakeRunner().on("black", ProcessOutcome{Stderr: "All done! 1 file left unchanged."})
	result, err := NewExecutor(runner, nil).RunGate(context.Background(), formatterDescriptor(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, result.Status)
	assert.Empty(t, result.Recovery)
}

func TestExecutor_InvocationUsesDescriptor(t *testing.T) {
	runner := newFakeRunner().on("black", passing())
	dir := t.TempDir()
	d := formatterDescriptor()
	d.Env = []string{"PYTHONHASHSEED=0"}

	_, err := NewExecutor(runner, nil).RunGate(context.Background(), d, dir)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	inv := runner.calls[0]
	assert.Equal(t, dir, inv.Dir)
	assert.Equal(t, []string{"--check", "--diff", "."}, inv.Args)
	assert.Equal(t, 60*time.Second, inv.Timeout)
	assert.Equal(t, []string{"PYTHONHASHSEED=0"}, inv.Env)
}

func TestExecutor_Timeout(t *testing.T) {
	runner := newFakeRunner().on("pytest", ProcessOutcome{Stdout: "collected 3 items", TimedOut: true})
	d := &Descriptor{
		Name:      "tests",
		Command:   "pytest",
		Timeout:   180 * time.Second,
		Predicate: PresenceAndAbsence([]string{"failed"}, []string{"passed", "collected"}),
		Recovery:  "pytest -v",
	}

	result, err := NewExecutor(runner, nil).RunGate(context.Background(), d, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.Nil(t, result.ExitCode)
	assert.Equal(t, 180*time.Second, result.Duration)
	assert.Equal(t, "pytest -v", result.Recovery)
	assert.Equal(t, 1, runner.callCount(), "timed out gates are not retried")
}

func TestExecutor_ZeroTimeoutUsesDefault(t *testing.T) {
	runner := newFakeRunner().on("x", passing())
	_, err := NewExecutor(runner, nil).RunGate(context.Background(), &Descriptor{Name: "x", Command: "x"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, runner.calls[0].Timeout)
}

func TestExecutor_LaunchFailure(t *testing.T) {
	cache := newMapCache()
	exec := NewExecutor(newFakeRunner(), cache)

	result, err := exec.RunGate(context.Background(), formatterDescriptor(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.Status)
	assert.Nil(t, result.ExitCode)
	assert.Contains(t, result.Stderr, "executable file not found")
	assert.Equal(t, "black .", result.Recovery)
	assert.Zero(t, cache.sets, "launch failures are not cached")
}

func TestExecutor_CacheHitReturnedUnmodified(t *testing.T) {
	cache := newMapCache()
	dir := t.TempDir()
	d := formatterDescriptor()
	stored := GateResult{Tool: "formatter", Status: StatusFailed, Stdout: "old", ExitCode: intPtr(1), Recovery: "black ."}
	cache.Set(d.Name, d.Args, dir, stored)

	runner := newFakeRunner().on("black", passing())
	result, err := NewExecutor(runner, cache).RunGate(context.Background(), d, dir)
	require.NoError(t, err)

	assert.Equal(t, stored, result)
	assert.Zero(t, runner.callCount())
}

func TestExecutor_SecondRunServedFromCache(t *testing.T) {
	cache := newMapCache()
	runner := newFakeRunner().on("black", passing())
	exec := NewExecutor(runner, cache)
	dir := t.TempDir()

	first, err := exec.RunGate(context.Background(), formatterDescriptor(), dir)
	require.NoError(t, err)
	second, err := exec.RunGate(context.Background(), formatterDescriptor(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, first, second)
}

func TestExecutor_ContractViolations(t *testing.T) {
	runner := newFakeRunner().on("black", passing())
	exec := NewExecutor(runner, nil)
	ctx := context.Background()

	_, err := exec.RunGate(ctx, &Descriptor{Name: "formatter"}, t.TempDir())
	assert.True(t, errors.Is(err, ErrInvalidDescriptor))

	_, err = exec.RunGate(ctx, formatterDescriptor(), "/does/not/exist")
	assert.True(t, errors.Is(err, ErrInvalidProjectPath))

	_, err = exec.RunGate(ctx, formatterDescriptor(), "")
	assert.True(t, errors.Is(err, ErrInvalidProjectPath))

	assert.Zero(t, runner.callCount())
}

func TestExecutor_Metrics(t *testing.T) {
	m := NewMetrics(nil)
	runner := newFakeRunner().
		on("black", ProcessOutcome{Stderr: "would reformat a.py", ExitCode: 1}).
		on("pytest", ProcessOutcome{TimedOut: true})
	exec := NewExecutor(runner, nil)
	exec.SetMetrics(m)
	dir := t.TempDir()

	_, err := exec.RunGate(context.Background(), formatterDescriptor(), dir)
	require.NoError(t, err)
	_, err = exec.RunGate(context.Background(), &Descriptor{Name: "tests", Command: "pytest"}, dir)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateRunsTotal.WithLabelValues("formatter", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateTimeoutsTotal.WithLabelValues("tests")))
}

func TestExecutor_InvalidUTF8OutputIsNormalized(t *testing.T) {
	runner := newFakeRunner().on("black", ProcessOutcome{Stdout: "caf\xe9 ok \xe2\x82", Stderr: "\xff"})
	cache := newMapCache()
	dir := t.TempDir()
	d := formatterDescriptor()

	result, err := NewExecutor(runner, cache).RunGate(context.Background(), d, dir)
	require.NoError(t, err)

	assert.Equal(t, "caf� ok �", result.Stdout)
	assert.Equal(t, "�", result.Stderr)
	cached, ok := cache.Get(d.Name, d.Args, dir)
	require.True(t, ok)
	assert.Equal(t, result, cached)
}
