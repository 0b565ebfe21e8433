package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/analyzerhost/internal/plugin/bundle"
)

// Discoverer finds plugin bundles on the filesystem.
type Discoverer struct {
	// Search paths for bundles (checked in order)
	paths []string
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithPaths sets the bundle search paths.
func WithPaths(paths ...string) DiscovererOption {
	return func(d *Discoverer) {
		d.paths = paths
	}
}

// NewDiscoverer creates a new bundle discoverer.
func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		paths: DefaultPluginPaths(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultPluginPaths returns the default bundle search paths.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)

	// User plugins: ~/.config/analyzerhost/plugins/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "analyzerhost", "plugins"))
	}

	// Project plugins: .analyzerhost/plugins/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".analyzerhost", "plugins"))
	}

	return paths
}

// Paths returns the configured search paths.
func (d *Discoverer) Paths() []string {
	return d.paths
}

// FindBundles lists the bundle archives in the search paths. Missing paths
// are not errors. When two paths hold a file with the same name the first
// path wins.
func (d *Discoverer) FindBundles(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var found []string

	for _, base := range d.paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("listing plugin directory %s: %w", base, err)
		}
		for _, entry := range entries {
			if !bundle.IsBundle(entry) || seen[entry.Name()] {
				continue
			}
			seen[entry.Name()] = true
			found = append(found, filepath.Join(base, entry.Name()))
		}
	}

	slogcontext.Debug(ctx, "plugin bundles found", "count", len(found), "paths", d.paths)
	return found, nil
}

// Discover finds and parses every bundle in the search paths.
func (d *Discoverer) Discover(ctx context.Context) ([]*Descriptor, error) {
	paths, err := d.FindBundles(ctx)
	if err != nil {
		return nil, err
	}
	return DiscoverBundles(ctx, paths)
}

// DiscoverBundles parses bundles concurrently. Bundles with manifest errors
// are logged and dropped. A key declared by two bundles fails the batch with
// a *DuplicatePluginKeyError. Descriptors are returned sorted by key.
func DiscoverBundles(ctx context.Context, bundlePaths []string) ([]*Descriptor, error) {
	parsed := make([]*Descriptor, len(bundlePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range bundlePaths {
		g.Go(func() error {
			d, err := Parse(p)
			if err != nil {
				slogcontext.Error(gctx, "unable to load plugin", "bundle", p, "error", err)
				return nil
			}
			parsed[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byKey := make(map[string]*Descriptor, len(parsed))
	out := make([]*Descriptor, 0, len(parsed))
	for _, d := range parsed {
		if d == nil {
			continue
		}
		if prev, ok := byKey[d.Key]; ok {
			return nil, &DuplicatePluginKeyError{Key: d.Key, First: prev.BundlePath, Second: d.BundlePath}
		}
		byKey[d.Key] = d
		out = append(out, d)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
