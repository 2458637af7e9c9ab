package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/fyrsmithlabs/reviewgate/internal/ignore"
)

// Fingerprinter reports the newest modification time among a project's
// tracked files. It is a cheap proxy for "has anything relevant changed".
type Fingerprinter interface {
	MaxModTime(projectPath string) (time.Time, error)
}

// FingerprinterFunc adapts a function to Fingerprinter.
type FingerprinterFunc func(projectPath string) (time.Time, error)

func (f FingerprinterFunc) MaxModTime(projectPath string) (time.Time, error) {
	return f(projectPath)
}

// ModTimeFingerprinter uses the git index when the project lives in a git
// work tree and otherwise walks the directory honoring ignore rules.
//
// Directory times are included in both modes so that deleting or adding a
// file also moves the fingerprint forward.
type ModTimeFingerprinter struct {
	parser *ignore.Parser
}

// NewFingerprinter creates a fingerprinter with the default ignore rules.
func NewFingerprinter() *ModTimeFingerprinter {
	return &ModTimeFingerprinter{parser: ignore.NewDefaultParser()}
}

// MaxModTime implements Fingerprinter.
func (f *ModTimeFingerprinter) MaxModTime(projectPath string) (time.Time, error) {
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return time.Time{}, err
	}
	latest, err := f.fromGitIndex(projectPath)
	if err == nil {
		return latest, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return time.Time{}, err
	}
	return f.fromWalk(projectPath)
}

func (f *ModTimeFingerprinter) fromGitIndex(projectPath string) (time.Time, error) {
	repo, err := git.PlainOpenWithOptions(projectPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return time.Time{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return time.Time{}, fmt.Errorf("open worktree: %w", err)
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		return time.Time{}, fmt.Errorf("read git index: %w", err)
	}

	root := wt.Filesystem.Root()
	prefix, err := filepath.Rel(root, projectPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("locate project in worktree: %w", err)
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	} else {
		prefix += "/"
	}

	var latest time.Time
	observe := func(path string) {
		if info, err := os.Lstat(path); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	// Staging changes the index itself.
	observe(filepath.Join(root, ".git", "index"))
	observe(projectPath)

	dirs := make(map[string]bool)
	for _, e := range idx.Entries {
		if !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(e.Name))
		observe(abs)
		for dir := filepath.Dir(abs); len(dir) > len(projectPath) && !dirs[dir]; dir = filepath.Dir(dir) {
			dirs[dir] = true
			observe(dir)
		}
	}
	return latest, nil
}

func (f *ModTimeFingerprinter) fromWalk(projectPath string) (time.Time, error) {
	matcher, err := f.parser.Matcher(projectPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("load ignore rules: %w", err)
	}

	var latest time.Time
	err = filepath.WalkDir(projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == projectPath {
				return err
			}
			return nil
		}
		rel, _ := filepath.Rel(projectPath, path)
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("walk project: %w", err)
	}
	return latest, nil
}
