// Package cache stores gate results across runs and decides when a stored
// result may be reused.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// DefaultTTL bounds the age of a reusable entry.
const DefaultTTL = time.Hour

const entryVersion = 1

// Entry is the persisted form of one cached gate result.
type Entry struct {
	Version     int                     `json:"version"`
	Key         string                  `json:"key"`
	Tool        string                  `json:"tool"`
	Args        []string                `json:"args"`
	ProjectPath string                  `json:"project_path"`
	Result      orchestrator.GateResult `json:"result"`
	CreatedAt   time.Time               `json:"created_at"`
	// Fingerprint is the newest tracked-file modification time seen when
	// the entry was written.
	Fingerprint time.Time     `json:"fingerprint"`
	TTL         time.Duration `json:"ttl"`

	// RawStdout and RawStderr hold output that is not valid UTF-8, which
	// JSON strings cannot carry byte for byte. The matching Result field is
	// empty when they are set.
	RawStdout []byte `json:"raw_stdout,omitempty"`
	RawStderr []byte `json:"raw_stderr,omitempty"`
}

// pack moves output JSON would alter into the raw fields.
func (e *Entry) pack() {
	if !utf8.ValidString(e.Result.Stdout) {
		e.RawStdout, e.Result.Stdout = []byte(e.Result.Stdout), ""
	}
	if !utf8.ValidString(e.Result.Stderr) {
		e.RawStderr, e.Result.Stderr = []byte(e.Result.Stderr), ""
	}
}

// unpack restores the result written by pack.
func (e *Entry) unpack() orchestrator.GateResult {
	r := e.Result
	if e.RawStdout != nil {
		r.Stdout = string(e.RawStdout)
	}
	if e.RawStderr != nil {
		r.Stderr = string(e.RawStderr)
	}
	return r
}

// Cache implements orchestrator.ResultCache over a Store.
//
// The storage key covers tool, normalized arguments and project path. The
// file fingerprint is recorded inside the entry rather than folded into the
// key, so a lookup after files change finds the old entry, reports a miss
// and evicts it instead of leaving it orphaned.
type Cache struct {
	store         Store
	enabled       bool
	ttl           time.Duration
	fingerprinter Fingerprinter
	now           func() time.Time
	metrics       *Metrics
	logger        *zap.Logger
}

var _ orchestrator.ResultCache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the maximum entry age. Non-positive values keep DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFingerprinter replaces the file fingerprinter.
func WithFingerprinter(f Fingerprinter) Option {
	return func(c *Cache) { c.fingerprinter = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an enabled cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:         store,
		enabled:       true,
		ttl:           DefaultTTL,
		fingerprinter: NewFingerprinter(),
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Disabled returns a cache that never hits and never writes.
func Disabled() *Cache {
	return &Cache{logger: zap.NewNop(), now: time.Now}
}

// Enabled reports whether the cache reads and writes its store.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// SetMetrics sets the metrics tracker for this cache.
func (c *Cache) SetMetrics(m *Metrics) {
	c.metrics = m
}

// SetLogger sets the logger for this cache.
func (c *Cache) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	c.logger = l
}

// Key derives the storage key for a gate invocation.
func Key(tool string, args []string, projectPath string) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	for _, a := range normalizeArgs(args) {
		h.Write([]byte(a))
		h.Write([]byte{0x1f})
	}
	h.Write([]byte{0})
	h.Write([]byte(normalizePath(projectPath)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeArgs collapses runs of whitespace inside each argument and drops
// empty arguments, keeping order.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if n := strings.Join(strings.Fields(a), " "); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Get returns the cached result for the invocation. Expired entries,
// entries older than a tracked file, and unreadable entries are misses and
// are deleted.
func (c *Cache) Get(tool string, args []string, projectPath string) (orchestrator.GateResult, bool) {
	if !c.enabled {
		return orchestrator.GateResult{}, false
	}
	ctx := context.Background()
	key := Key(tool, args, projectPath)

	data, err := c.store.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("tool", tool), zap.Error(err))
		}
		c.metrics.recordMiss()
		return orchestrator.GateResult{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Version != entryVersion || entry.Key != key {
		c.evict(ctx, key, tool, "corrupt")
		return orchestrator.GateResult{}, false
	}

	now := c.now()
	ttl := entry.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	if now.Sub(entry.CreatedAt) > ttl {
		c.evict(ctx, key, tool, "expired")
		return orchestrator.GateResult{}, false
	}

	current, err := c.fingerprinter.MaxModTime(normalizePath(projectPath))
	if err != nil {
		c.logger.Warn("fingerprint failed", zap.String("tool", tool), zap.Error(err))
		c.metrics.recordMiss()
		return orchestrator.GateResult{}, false
	}
	if current.After(entry.Fingerprint) || current.After(entry.CreatedAt) {
		c.evict(ctx, key, tool, "modified")
		return orchestrator.GateResult{}, false
	}

	c.metrics.recordHit()
	c.logger.Debug("cache hit", zap.String("tool", tool), zap.Duration("age", now.Sub(entry.CreatedAt)))
	return entry.unpack(), true
}

func (c *Cache) evict(ctx context.Context, key, tool, reason string) {
	if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("cache eviction failed", zap.String("tool", tool), zap.Error(err))
	}
	c.metrics.recordEviction(reason)
	c.metrics.recordMiss()
	c.logger.Debug("cache entry evicted", zap.String("tool", tool), zap.String("reason", reason))
}

// Set stores result for the invocation, overwriting any previous entry.
// Storage failures are logged and otherwise ignored.
func (c *Cache) Set(tool string, args []string, projectPath string, result orchestrator.GateResult) {
	if !c.enabled {
		return
	}
	path := normalizePath(projectPath)
	fingerprint, err := c.fingerprinter.MaxModTime(path)
	if err != nil {
		c.logger.Warn("fingerprint failed, result not cached", zap.String("tool", tool), zap.Error(err))
		return
	}

	key := Key(tool, args, projectPath)
	entry := Entry{
		Version:     entryVersion,
		Key:         key,
		Tool:        tool,
		Args:        normalizeArgs(args),
		ProjectPath: path,
		Result:      result,
		CreatedAt:   c.now(),
		Fingerprint: fingerprint,
		TTL:         c.ttl,
	}
	entry.pack()
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("tool", tool), zap.Error(err))
		return
	}
	if err := c.store.Write(context.Background(), key, data); err != nil {
		c.logger.Warn("cache write failed", zap.String("tool", tool), zap.Error(err))
		return
	}
	c.metrics.recordWrite()
}

// Clear removes every entry from the store.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	return clearStore(context.Background(), c.store)
}
