package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/dshills/analyzerhost/internal/plugin/leak"
)

// Unload closes every loading context, then every open archive, then
// deletes every temporary path. Each step is attempted regardless of
// earlier failures; everything that failed is reported in one
// *CleanupError. Paths that are already gone are not errors.
func Unload(ctx context.Context, set *LoadedModuleSet) error {
	set.mu.Lock()
	defer set.mu.Unlock()

	var errs []error

	for _, key := range slices.Sorted(maps.Keys(set.contexts)) {
		if err := set.contexts[key].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing context of domain %q: %w", key, err))
		}
	}
	for _, a := range set.archives {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", a.Path(), err))
		}
	}

	for _, p := range set.tempPaths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", p, err))
		}
	}
	if set.sessionDir != "" {
		if err := os.RemoveAll(set.sessionDir); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", set.sessionDir, err))
		}
	}

	set.release()

	if len(errs) > 0 {
		err := &CleanupError{Errs: errs}
		slogcontext.Error(ctx, "unload incomplete", "session", set.SessionID, "error", err)
		return err
	}
	slogcontext.Debug(ctx, "session unloaded", "session", set.SessionID)
	return nil
}

// Handles returns leak handles for every loading context and instance of
// the set. Take them before Unload and pass them to leak.TryReclaim after
// dropping every other reference.
func (s *LoadedModuleSet) Handles() []leak.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hs []leak.Handle
	for _, st := range s.contexts {
		hs = append(hs, leak.Track(st))
	}
	for _, inst := range s.instances {
		hs = append(hs, leak.Track(inst))
	}
	return hs
}

// release drops the set's references to contexts and instances. The
// caller holds s.mu.
func (s *LoadedModuleSet) release() {
	clear(s.contexts)
	clear(s.contents)
	clear(s.instances)
	s.archives = nil
}
