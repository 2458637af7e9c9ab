// Package watch re-triggers work when project files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewgate/internal/ignore"
)

// DefaultDebounce is how long the tree must be quiet before a change fires.
const DefaultDebounce = 500 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// ChangeFunc receives the project-relative, slash-separated paths that
// changed since the previous call. It runs on the watcher goroutine, so
// changes made while it runs are delivered in the next batch.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher watches a project tree, skipping ignored directories.
type Watcher struct {
	root     string
	matcher  *ignore.Matcher
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   *zap.Logger

	closeOnce sync.Once
}

// New watches every non-ignored directory under root. A nil matcher
// watches everything.
func New(root string, matcher *ignore.Matcher, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if matcher == nil {
		matcher = ignore.NewMatcher(nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		root:     abs,
		matcher:  matcher,
		debounce: debounce,
		fsw:      fsw,
		logger:   zap.NewNop(),
	}
	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// SetLogger sets the logger.
func (w *Watcher) SetLogger(l *zap.Logger) {
	if l != nil {
		w.logger = l.Named("watch")
	}
}

// Watched returns the watched directories, relative to the root.
func (w *Watcher) Watched() []string {
	list := w.fsw.WatchList()
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, w.rel(p))
	}
	sort.Strings(out)
	return out
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// Run delivers debounced change batches to onChange until ctx is done or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			rel, keep := w.handle(event)
			if !keep {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)

			w.logger.Debug("change detected", zap.Strings("paths", changed))
			onChange(ctx, changed)
		}
	}
}

// handle filters an event and starts watching new directories. It returns
// the relative path and whether the event counts as a change.
func (w *Watcher) handle(event fsnotify.Event) (string, bool) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return "", false
	}
	rel := w.rel(event.Name)
	if rel == "." {
		return "", false
	}

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.matcher.Match(rel, isDir) {
		return "", false
	}
	if isDir {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("watch new directory", zap.String("path", rel), zap.Error(err))
		}
	}
	return rel, true
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable subdirectories are skipped.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.rel(path); rel != "." && w.matcher.Match(rel, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
