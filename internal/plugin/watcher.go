package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	slogcontext "github.com/veqryn/slog-context"
)

// DefaultReloadDelay is how long the watcher waits for bundle changes to
// settle before reloading.
const DefaultReloadDelay = 500 * time.Millisecond

// Reloader reloads every plugin. *Manager implements it.
type Reloader interface {
	Reload(ctx context.Context) (*LoadedModuleSet, error)
}

// Watcher reloads plugins when bundles appear, change or disappear in the
// plugin directories. Bursts of changes are coalesced into one reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	reloader Reloader
	delay    time.Duration
	paths    []string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets the debounce delay.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// NewWatcher watches dirs and reloads through r. Directories that do not
// exist are skipped.
func NewWatcher(ctx context.Context, r Reloader, dirs []string, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		reloader: r,
		delay:    DefaultReloadDelay,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			_ = fsw.Close()
			return nil, err
		}
		if err := fsw.Add(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slogcontext.Warn(ctx, "plugin directory does not exist, not watching it", "path", abs)
				continue
			}
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", abs, err)
		}
		w.paths = append(w.paths, abs)
	}
	return w, nil
}

// WatchedPaths returns the directories being watched.
func (w *Watcher) WatchedPaths() []string {
	return w.paths
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.delay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !isBundleEvent(ev) {
				continue
			}
			slogcontext.Debug(ctx, "plugin bundle changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.delay)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slogcontext.Error(ctx, "plugin watcher error", "error", err)

		case <-timer.C:
			if _, err := w.reloader.Reload(ctx); err != nil {
				slogcontext.Error(ctx, "plugin reload failed", "error", err)
			}
		}
	}
}

func isBundleEvent(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return false
	}
	return strings.EqualFold(filepath.Ext(ev.Name), ".zip")
}
