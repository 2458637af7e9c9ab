package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// testClock and testFingerprint let tests move time and file state by hand.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testFingerprint struct {
	mu     sync.Mutex
	latest time.Time
	err    error
}

func (f *testFingerprint) MaxModTime(string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.err
}

func (f *testFingerprint) Touch(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = t
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) (*Cache, *MemoryStore, *testClock, *testFingerprint) {
	t.Helper()
	store := NewMemoryStore()
	clock := &testClock{now: epoch}
	fp := &testFingerprint{latest: epoch.Add(-time.Minute)}
	c := New(store, WithClock(clock.Now), WithFingerprinter(fp))
	c.SetMetrics(NewMetrics(nil))
	return c, store, clock, fp
}

func sampleResult() orchestrator.GateResult {
	code := 1
	return orchestrator.GateResult{
		Tool:     "formatter",
		Status:   orchestrator.StatusFailed,
		Stdout:   "would reformat foo.py",
		ExitCode: &code,
		Duration: 1500 * time.Millisecond,
		Recovery: "black .",
	}
}

func TestCache_SetAndGet(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	args := []string{"--check", "."}

	c.Set("formatter", args, "/src/app", sampleResult())
	got, ok := c.Get("formatter", args, "/src/app")

	require.True(t, ok)
	assert.Equal(t, sampleResult(), got)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.HitsTotal))
}

func TestCache_Miss(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	_, ok := c.Get("formatter", nil, "/src/app")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.MissesTotal))
}

func TestCache_SetOverwrites(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	first := sampleResult()
	second := sampleResult()
	second.Status = orchestrator.StatusPassed
	second.Recovery = ""

	c.Set("formatter", nil, "/src/app", first)
	c.Set("formatter", nil, "/src/app", second)

	got, ok := c.Get("formatter", nil, "/src/app")
	require.True(t, ok)
	assert.Equal(t, second, got)

	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestCache_FileModificationInvalidates(t *testing.T) {
	c, store, clock, fp := newTestCache(t)
	c.Set("linter", nil, "/src/app", sampleResult())

	clock.Advance(time.Minute)
	fp.Touch(clock.Now())

	_, ok := c.Get("linter", nil, "/src/app")
	assert.False(t, ok)

	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys, "stale entry is evicted")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.EvictionsTotal.WithLabelValues("modified")))
}

func TestCache_FileNewerThanCreationInvalidates(t *testing.T) {
	c, _, _, fp := newTestCache(t)
	c.Set("linter", nil, "/src/app", sampleResult())

	// Entry was written at epoch with a fingerprint a minute older. A file
	// stamped after the entry was created invalidates it even though it is
	// the first change seen since.
	fp.Touch(epoch.Add(time.Second))

	_, ok := c.Get("linter", nil, "/src/app")
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, store, clock, _ := newTestCache(t)
	c.Set("security", nil, "/src/app", sampleResult())

	clock.Advance(59 * time.Minute)
	_, ok := c.Get("security", nil, "/src/app")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("security", nil, "/src/app")
	assert.False(t, ok)

	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.EvictionsTotal.WithLabelValues("expired")))
}

func TestCache_CustomTTL(t *testing.T) {
	store := NewMemoryStore()
	clock := &testClock{now: epoch}
	c := New(store, WithTTL(10*time.Second), WithClock(clock.Now), WithFingerprinter(&testFingerprint{}))

	c.Set("tests", nil, "/src/app", sampleResult())
	clock.Advance(11 * time.Second)

	_, ok := c.Get("tests", nil, "/src/app")
	assert.False(t, ok)
}

func TestCache_CorruptEntry(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	key := Key("formatter", nil, "/src/app")
	require.NoError(t, store.Write(context.Background(), key, []byte("{not json")))

	_, ok := c.Get("formatter", nil, "/src/app")
	assert.False(t, ok)

	_, err := store.Read(context.Background(), key)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.EvictionsTotal.WithLabelValues("corrupt")))
}

func TestCache_EntryForOtherKeyIsCorrupt(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	c.Set("formatter", nil, "/src/app", sampleResult())
	data, err := store.Read(context.Background(), Key("formatter", nil, "/src/app"))
	require.NoError(t, err)

	other := Key("linter", nil, "/src/app")
	require.NoError(t, store.Write(context.Background(), other, data))

	_, ok := c.Get("linter", nil, "/src/app")
	assert.False(t, ok)
}

func TestCache_FingerprintErrorIsMiss(t *testing.T) {
	c, _, _, fp := newTestCache(t)
	c.Set("formatter", nil, "/src/app", sampleResult())
	fp.mu.Lock()
	fp.err = errors.New("permission denied")
	fp.mu.Unlock()

	_, ok := c.Get("formatter", nil, "/src/app")
	assert.False(t, ok)
}

func TestCache_Disabled(t *testing.T) {
	c := Disabled()
	assert.False(t, c.Enabled())

	c.Set("formatter", nil, "/src/app", sampleResult())
	_, ok := c.Get("formatter", nil, "/src/app")
	assert.False(t, ok)
	assert.NoError(t, c.Clear())
}

func TestCache_Clear(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	c.Set("formatter", nil, "/src/app", sampleResult())
	c.Set("linter", nil, "/src/app", sampleResult())

	require.NoError(t, c.Clear())

	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_ConcurrentDifferentKeys(t *testing.T) {
	c, _, _, _ := newTestCache(t)
	tools := []string{"formatter", "linter", "security", "tests"}

	var wg sync.WaitGroup
	for _, tool := range tools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := sampleResult()
			r.Tool = tool
			c.Set(tool, nil, "/src/app", r)
			got, ok := c.Get(tool, nil, "/src/app")
			assert.True(t, ok)
			assert.Equal(t, tool, got.Tool)
		}()
	}
	wg.Wait()
}

func TestKey(t *testing.T) {
	base := Key("formatter", []string{"--check", "--diff", "."}, "/src/app")

	assert.Len(t, base, 64)
	assert.Equal(t, base, Key("formatter", []string{" --check", "--diff ", "", "."}, "/src/app"))
	assert.Equal(t, base, Key("formatter", []string{"--check", "--diff", "."}, "/src/app/"))
	assert.NotEqual(t, base, Key("formatter", []string{"--diff", "--check", "."}, "/src/app"))
	assert.NotEqual(t, base, Key("linter", []string{"--check", "--diff", "."}, "/src/app"))
	assert.NotEqual(t, base, Key("formatter", []string{"--check", "--diff", "."}, "/src/other"))
	assert.Equal(t,
		Key("pytest", []string{"-k", "a  and   b"}, "/p"),
		Key("pytest", []string{"-k", "a and b"}, "/p"))
}

func TestCache_RealFingerprint(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.py")
	require.NoError(t, os.WriteFile(file, []byte("print('hi')\n"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(file, past, past))
	require.NoError(t, os.Chtimes(dir, past, past))

	c := New(NewMemoryStore())
	c.Set("formatter", nil, dir, sampleResult())

	_, ok := c.Get("formatter", nil, dir)
	require.True(t, ok)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(file, future, future))

	_, ok = c.Get("formatter", nil, dir)
	assert.False(t, ok)
}

func TestCache_RoundTripKeepsInvalidUTF8(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	want := sampleResult()
	want.Stdout = "caf\xe9 error \xe2\x82"
	want.Stderr = "\xff\xfe"

	c.Set("formatter", nil, "/src/app", want)
	got, ok := c.Get("formatter", nil, "/src/app")
	require.True(t, ok)
	assert.Equal(t, want, got)

	data, err := store.Read(context.Background(), Key("formatter", nil, "/src/app"))
	require.NoError(t, err)
	assert.True(t, utf8.Valid(data), "entries are valid JSON text")
}

func TestCache_ValidUTF8StaysInResult(t *testing.T) {
	c, store, _, _ := newTestCache(t)
	want := sampleResult()
	want.Stdout = "naïve café ✓"
	c.Set("formatter", nil, "/src/app", want)

	data, err := store.Read(context.Background(), Key("formatter", nil, "/src/app"))
	require.NoError(t, err)
	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Nil(t, entry.RawStdout)
	assert.Equal(t, want.Stdout, entry.Result.Stdout)
}
