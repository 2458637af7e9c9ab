// Package config loads reviewgate configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
)

// Config is the complete application configuration.
type Config struct {
	Project   ProjectConfig         `koanf:"project"`
	Policy    PolicyConfig          `koanf:"policy"`
	Tools     map[string]ToolConfig `koanf:"tools"`
	Cache     CacheConfig           `koanf:"cache"`
	Review    ReviewConfig          `koanf:"review"`
	Logging   LoggingConfig         `koanf:"logging"`
	Telemetry TelemetryConfig       `koanf:"telemetry"`
	Metrics   MetricsConfig         `koanf:"metrics"`
	Watch     WatchConfig           `koanf:"watch"`
	History   HistoryConfig         `koanf:"history"`
}

// ProjectConfig identifies the project under review.
type ProjectConfig struct {
	Type string `koanf:"type"`
	Path string `koanf:"path"`
}

// PolicyConfig selects the orchestration policy.
type PolicyConfig struct {
	Mode        string `koanf:"mode"`
	Parallel    bool   `koanf:"parallel"`
	MaxParallel int    `koanf:"max_parallel"`
}

// ToolConfig describes one gate.
type ToolConfig struct {
	Enabled     bool                   `koanf:"enabled"`
	Order       int                    `koanf:"order"`
	Command     string                 `koanf:"command"`
	Args        []string               `koanf:"args"`
	Env         []string               `koanf:"env"`
	Timeout     Duration               `koanf:"timeout"`
	Concurrency string                 `koanf:"concurrency"`
	Predicate   orchestrator.Predicate `koanf:"predicate"`
	Recovery    RecoveryConfig         `koanf:"recovery"`
}

// RecoveryConfig is the suggestion shown when a gate does not pass.
type RecoveryConfig struct {
	Command     string `koanf:"command"`
	Description string `koanf:"description"`
	Priority    string `koanf:"priority"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled bool     `koanf:"enabled"`
	Backend string   `koanf:"backend"`
	Dir     string   `koanf:"dir"`
	TTL     Duration `koanf:"ttl"`
}

// ReviewConfig controls the external reviewer invocation.
type ReviewConfig struct {
	Enabled            bool     `koanf:"enabled"`
	DryRun             bool     `koanf:"dry_run"`
	Command            string   `koanf:"command"`
	Args               []string `koanf:"args"`
	APIKey             Secret   `koanf:"api_key"`
	APIKeyEnv          string   `koanf:"api_key_env"`
	Timeout            Duration `koanf:"timeout"`
	MaxRetries         int      `koanf:"max_retries"`
	RetryDelay         Duration `koanf:"retry_delay"`
	IncludeDiff        bool     `koanf:"include_diff"`
	IncludeTestResults bool     `koanf:"include_test_results"`
	MaxLines           int      `koanf:"max_lines"`
	ScrubSecrets       bool     `koanf:"scrub_secrets"`
	Prompt             string   `koanf:"prompt"`
	MaxPerMinute       int      `koanf:"max_per_minute"`
}

// LoggingConfig is the plain logging section; the logging package turns it
// into a logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
	Caller bool   `koanf:"caller"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" or "http/protobuf".
	Protocol      string  `koanf:"protocol"`
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	ServiceName   string  `koanf:"service_name"`
	SamplingRate  float64 `koanf:"sampling_rate"`
}

// MetricsConfig controls Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce Duration `koanf:"debounce"`
	HTTPHost string   `koanf:"http_host"`
	// HTTPPort serves the status API while watching. Zero disables it.
	HTTPPort int `koanf:"http_port"`
}

// HistoryConfig controls the per-run output directory.
type HistoryConfig struct {
	// Dir receives reviews/<run>/ directories. Empty disables history.
	// Relative paths are resolved against the project root.
	Dir string `koanf:"dir"`
	// Timestamped keeps every run in its own directory instead of
	// replacing reviews/latest.
	Timestamped bool `koanf:"timestamped"`
}

// Project types with built-in tool profiles.
const (
	ProjectPython = "python"
	ProjectGo     = "go"
)

// DetectProjectType guesses the project type from marker files.
// It returns "" when nothing matches.
func DetectProjectType(projectPath string) string {
	markers := []struct {
		file string
		kind string
	}{
		{"go.mod", ProjectGo},
		{"pyproject.toml", ProjectPython},
		{"setup.py", ProjectPython},
		{"setup.cfg", ProjectPython},
		{"requirements.txt", ProjectPython},
	}
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(projectPath, m.file)); err == nil {
			return m.kind
		}
	}
	return ""
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := orchestrator.ParsePolicy(c.Policy.Mode); err != nil {
		errs = append(errs, fmt.Errorf("policy.mode: %w", err))
	}
	if c.Policy.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("policy.max_parallel must be >= 0, got %d", c.Policy.MaxParallel))
	}

	switch c.Cache.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be file, sqlite or memory, got %q", c.Cache.Backend))
	}

	if c.Review.Enabled && !c.Review.DryRun && strings.TrimSpace(c.Review.Command) == "" {
		errs = append(errs, fmt.Errorf("review.command is required when review is enabled"))
	}
	if c.Review.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("review.max_retries must be >= 1, got %d", c.Review.MaxRetries))
	}
	if c.Review.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("review.max_lines must be >= 1, got %d", c.Review.MaxLines))
	}

	if c.Review.MaxPerMinute < 0 {
		errs = append(errs, fmt.Errorf("review.max_per_minute must be >= 0, got %d", c.Review.MaxPerMinute))
	}
	if c.Watch.HTTPPort < 0 || c.Watch.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("watch.http_port must be between 0 and 65535, got %d", c.Watch.HTTPPort))
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate))
	}

	if _, err := c.Descriptors(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Descriptors converts the enabled tools into descriptors, ordered by their
// order value and then by name.
func (c *Config) Descriptors() ([]*orchestrator.Descriptor, error) {
	names := make([]string, 0, len(c.Tools))
	for name, tool := range c.Tools {
		if tool.Enabled {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := c.Tools[names[i]].Order, c.Tools[names[j]].Order
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})

	var errs []error
	descriptors := make([]*orchestrator.Descriptor, 0, len(names))
	for _, name := range names {
		tool := c.Tools[name]
		d := &orchestrator.Descriptor{
			Name:                name,
			Command:             tool.Command,
			Args:                tool.Args,
			Env:                 tool.Env,
			Timeout:             tool.Timeout.Duration(),
			Predicate:           tool.Predicate,
			Concurrency:         orchestrator.ConcurrencyClass(tool.Concurrency),
			Recovery:            tool.Recovery.Command,
			RecoveryDescription: tool.Recovery.Description,
			RecoveryPriority:    tool.Recovery.Priority,
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tools.%s: %w", name, err))
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, errors.Join(errs...)
}

// Only restricts enabled tools to the given names.
func (c *Config) Only(names []string) error {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := c.Tools[n]; !ok {
			return fmt.Errorf("unknown tool %q", n)
		}
		keep[n] = true
	}
	for name, tool := range c.Tools {
		tool.Enabled = tool.Enabled && keep[name]
		c.Tools[name] = tool
	}
	return nil
}
