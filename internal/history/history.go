// Package history keeps one directory per run so gate results can be
// compared across runs.
//
// Layout under the configured directory:
//
//	reviews/<run>/run.json       machine-readable record of the run
//	reviews/<run>/report.md      the markdown report
//	reviews/<run>/review.md      reviewer response, when a review ran
//	reviews/<run>/gates/<tool>.log  output of each gate that produced any
//	reports/report_<time>.{md,json}  summaries written by SaveSummary
//
// <run> is either "latest", replaced on every run, or a timestamp.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/report"
)

const (
	reviewsDir = "reviews"
	reportsDir = "reports"
	latestRun  = "latest"
	gatesDir   = "gates"
	runFile    = "run.json"
	reportFile = "report.md"
	reviewFile = "review.md"

	// TimeLayout names timestamped run directories; it sorts chronologically.
	TimeLayout = "2006-01-02_15-04-05"
)

// Run is the record stored as run.json.
type Run struct {
	// ID is the run directory name.
	ID          string                         `json:"-"`
	ProjectPath string                         `json:"project_path"`
	ProjectType string                         `json:"project_type,omitempty"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Reviewed    bool                           `json:"reviewed"`
	SkipReason  string                         `json:"skip_reason,omitempty"`
	Outcome     *orchestrator.AggregateOutcome `json:"outcome"`
}

// Store writes and reads run directories.
type Store struct {
	dir         string
	timestamped bool
	logger      *zap.Logger
}

// New returns a store rooted at dir. Directories are created on first save.
func New(dir string, timestamped bool) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve history directory: %w", err)
	}
	return &Store{dir: abs, timestamped: timestamped, logger: zap.NewNop()}, nil
}

// SetLogger sets the logger. Nil is ignored.
func (s *Store) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes rep as a run directory and returns its path.
//
// The directory is assembled under a temporary name and renamed into place,
// so readers never see a half-written run.
func (s *Store) Save(rep report.Report) (string, error) {
	if rep.Outcome == nil {
		return "", fmt.Errorf("report has no outcome")
	}
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = time.Now()
	}

	parent := filepath.Join(s.dir, reviewsDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("create history directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, ".run-tmp-*")
	if err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := writeRun(tmp, rep); err != nil {
		return "", err
	}
	// MkdirTemp creates 0700.
	if err := os.Chmod(tmp, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}

	final, err := s.target(parent, rep.GeneratedAt)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("move run directory into place: %w", err)
	}
	s.logger.Debug("run saved to history", zap.String("dir", final), zap.String("run_id", rep.Outcome.RunID))
	return final, nil
}

// target picks the final directory for a run, clearing reviews/latest in
// the untimestamped mode. Runs saved within the same second get a numeric
// suffix.
func (s *Store) target(parent string, at time.Time) (string, error) {
	if !s.timestamped {
		final := filepath.Join(parent, latestRun)
		if err := os.RemoveAll(final); err != nil {
			return "", fmt.Errorf("replace latest run: %w", err)
		}
		return final, nil
	}

	base := at.Local().Format(TimeLayout)
	final := filepath.Join(parent, base)
	for n := 2; ; n++ {
		_, err := os.Lstat(final)
		if errors.Is(err, os.ErrNotExist) {
			return final, nil
		}
		if err != nil {
			return "", fmt.Errorf("check run directory: %w", err)
		}
		final = filepath.Join(parent, fmt.Sprintf("%s-%d", base, n))
	}
}

func writeRun(dir string, rep report.Report) error {
	run := Run{
		ProjectPath: rep.ProjectPath,
		ProjectType: rep.ProjectType,
		GeneratedAt: rep.GeneratedAt.UTC(),
		Reviewed:    strings.TrimSpace(rep.Review) != "",
		SkipReason:  rep.SkipReason,
		Outcome:     rep.Outcome,
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if err := writeFile(filepath.Join(dir, runFile), data); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, reportFile))
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := report.WriteMarkdown(f, rep); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if run.Reviewed {
		if err := writeFile(filepath.Join(dir, reviewFile), []byte(strings.TrimSpace(rep.Review)+"\n")); err != nil {
			return err
		}
	}

	for _, r := range rep.Outcome.Results {
		out := r.Output()
		if out == "" {
			continue
		}
		logs := filepath.Join(dir, gatesDir)
		if err := os.MkdirAll(logs, 0o755); err != nil {
			return fmt.Errorf("create gate log directory: %w", err)
		}
		if err := writeFile(filepath.Join(logs, LogName(r.Tool)), []byte(out)); err != nil {
			return err
		}
	}
	return nil
}

// LogName maps a tool name to its log file name. Characters outside
// [A-Za-z0-9._-] become underscores so a name never escapes gates/.
func LogName(tool string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, tool)
	if name == "" || strings.Trim(name, ".") == "" {
		name = "_" + name
	}
	return name + ".log"
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Runs returns the saved runs, oldest first. Run directories without a
// readable run.json are skipped with a warning.
func (s *Store) Runs() ([]Run, error) {
	parent := filepath.Join(s.dir, reviewsDir)
	entries, err := os.ReadDir(parent)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	var runs []Run
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		run, err := readRun(filepath.Join(parent, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable run", zap.String("run", e.Name()), zap.Error(err))
			continue
		}
		run.ID = e.Name()
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].GeneratedAt.Equal(runs[j].GeneratedAt) {
			return runs[i].GeneratedAt.Before(runs[j].GeneratedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func readRun(dir string) (Run, error) {
	data, err := os.ReadFile(filepath.Join(dir, runFile))
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("decode %s: %w", runFile, err)
	}
	if run.Outcome == nil {
		return Run{}, fmt.Errorf("%s has no outcome", runFile)
	}
	return run, nil
}
