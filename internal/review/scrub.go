package review

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// AllowlistFileName is read from the project root.
const AllowlistFileName = ".gitleaks.toml"

// Finding is one redacted secret. The secret itself is never retained.
type Finding struct {
	RuleID string
	Line   int
}

// Scrubber removes secrets from text bound for the reviewer.
type Scrubber interface {
	Scrub(content string) (string, []Finding, error)
}

// NopScrubber returns content unchanged.
type NopScrubber struct{}

// Scrub implements Scrubber.
func (NopScrubber) Scrub(content string) (string, []Finding, error) {
	return content, nil, nil
}

// Allowlist holds patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlist reads the [allowlist] table of <projectPath>/.gitleaks.toml.
// A missing file yields an empty allowlist.
func LoadAllowlist(projectPath string) (*Allowlist, error) {
	path := filepath.Join(projectPath, AllowlistFileName)
	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}

	for _, p := range slices.Concat(file.Allowlist.Paths, file.Allowlist.Regexes) {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return &Allowlist{Paths: file.Allowlist.Paths, Regexes: file.Allowlist.Regexes}, nil
}

// GitleaksScrubber detects secrets with the default gitleaks rule set.
type GitleaksScrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksScrubber builds a scrubber honoring allowlist, which may be nil.
func NewGitleaksScrubber(allowlist *Allowlist) (*GitleaksScrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create secret detector: %w", err)
	}
	if allowlist != nil && (len(allowlist.Paths) > 0 || len(allowlist.Regexes) > 0) {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &GitleaksScrubber{detector: detector}, nil
}

// Scrub replaces every detected secret with [REDACTED:<rule>].
func (s *GitleaksScrubber) Scrub(content string) (string, []Finding, error) {
	s.mu.Lock()
	leaks := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(leaks) == 0 {
		return content, nil, nil
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(leaks, func(i, j int) bool {
		return len(leaks[i].Secret) > len(leaks[j].Secret)
	})

	findings := make([]Finding, 0, len(leaks))
	scrubbed := content
	for _, leak := range leaks {
		if leak.Secret == "" {
			continue
		}
		scrubbed = strings.ReplaceAll(scrubbed, leak.Secret, "[REDACTED:"+leak.RuleID+"]")
		findings = append(findings, Finding{RuleID: leak.RuleID, Line: leak.StartLine})
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Line < findings[j].Line
	})
	return scrubbed, findings, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "reviewgate project allowlist",
	}
	// Patterns were compiled once already in LoadAllowlist.
	for _, p := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
