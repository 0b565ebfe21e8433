package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/dshills/analyzerhost/internal/plugin/bundle"
	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
)

// sessionDirPrefix names per-session extraction directories under the
// temporary root.
const sessionDirPrefix = "analyzerhost-"

// Loader builds one isolated loading context per domain.
type Loader struct {
	tempRoot         string
	host             plua.HostSurface
	logs             *plua.LogBridge
	executionTimeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithTempRoot sets the directory under which session directories for
// embedded resources are created.
func WithTempRoot(dir string) LoaderOption {
	return func(l *Loader) {
		l.tempRoot = dir
	}
}

// WithHostAPI sets the host-API surface shared by every domain.
func WithHostAPI(h plua.HostSurface) LoaderOption {
	return func(l *Loader) {
		l.host = h
	}
}

// WithLogs sets the logging bridge shared by every domain.
func WithLogs(b *plua.LogBridge) LoaderOption {
	return func(l *Loader) {
		l.logs = b
	}
}

// WithCallTimeout bounds each module load and entry-point call.
func WithCallTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.executionTimeout = d
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		tempRoot:         os.TempDir(),
		executionTimeout: plua.DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadedModuleSet is the outcome of one load session. It is read-mostly:
// Build fills it, Instantiate adds instances and Unload tears it down.
// Accessors are safe to call while Unload runs on another goroutine.
type LoadedModuleSet struct {
	// SessionID names the session's temporary directory.
	SessionID string

	mu sync.RWMutex

	domains  map[string]*Domain
	contexts map[string]*plua.State
	contents map[string]*content
	archives []*bundle.Archive

	instances map[string]*Instance

	sessionDir string
	tempPaths  []string

	failedDomains map[string]error
	failedPlugins map[string]error
}

func newLoadedModuleSet() *LoadedModuleSet {
	return &LoadedModuleSet{
		SessionID:     uuid.NewString(),
		domains:       make(map[string]*Domain),
		contexts:      make(map[string]*plua.State),
		contents:      make(map[string]*content),
		instances:     make(map[string]*Instance),
		failedDomains: make(map[string]error),
		failedPlugins: make(map[string]error),
	}
}

// Domains returns the successfully built domains sorted by key.
func (s *LoadedModuleSet) Domains() []*Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}

// Context returns the loading context of a domain.
func (s *LoadedModuleSet) Context(domainKey string) (*plua.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.contexts[domainKey]
	return st, ok
}

// Instance returns the instance of a plugin.
func (s *LoadedModuleSet) Instance(pluginKey string) (*Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[pluginKey]
	return inst, ok
}

// Instances returns every live instance sorted by plugin key.
func (s *LoadedModuleSet) Instances() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}

// TempPaths returns every temporary path created for the session.
func (s *LoadedModuleSet) TempPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := append([]string(nil), s.tempPaths...)
	if s.sessionDir != "" {
		paths = append(paths, s.sessionDir)
	}
	return paths
}

// FailedDomains returns the domains whose context could not be built.
func (s *LoadedModuleSet) FailedDomains() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]error, len(s.failedDomains))
	for k, v := range s.failedDomains {
		out[k] = v
	}
	return out
}

// FailedPlugins returns the plugins excluded during loading or
// instantiation.
func (s *LoadedModuleSet) FailedPlugins() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]error, len(s.failedPlugins))
	for k, v := range s.failedPlugins {
		out[k] = v
	}
	return out
}

// ensureSessionDir creates the session directory on first use.
func (l *Loader) ensureSessionDir(set *LoadedModuleSet) (string, error) {
	if set.sessionDir != "" {
		return set.sessionDir, nil
	}
	dir := filepath.Join(l.tempRoot, sessionDirPrefix+set.SessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating session directory: %w", err)
	}
	set.sessionDir = dir
	return dir, nil
}

// Build creates a loading context for every domain. A domain whose context
// cannot be built is logged and left out together with its plugins; the
// rest still load. Domains import each other only through export masks.
func (l *Loader) Build(ctx context.Context, domains []*Domain) *LoadedModuleSet {
	set := newLoadedModuleSet()
	ctx = slogcontext.With(ctx, "session", set.SessionID)

	for _, dom := range domains {
		c, archives, err := l.buildContent(ctx, set, dom)
		if err != nil {
			for _, a := range archives {
				_ = a.Close()
			}
			set.fail(ctx, dom, &ContextCreationError{Domain: dom.Key, Err: err})
			continue
		}

		set.domains[dom.Key] = dom
		set.contents[dom.Key] = c
		set.archives = append(set.archives, archives...)
		set.contexts[dom.Key] = plua.NewState(dom.Key,
			plua.WithContent(c),
			plua.WithHostSurface(l.host),
			plua.WithLogBridge(l.logs),
			plua.WithExecutionTimeout(l.executionTimeout),
		)
		slogcontext.Debug(ctx, "domain context created", "domain", dom.Key, "members", dom.Members)
	}

	// Every peer carries its own peer list so that exported modules
	// resolve their requires in the exporting domain.
	built := set.Domains()
	peersOf := make(map[string][]plua.Peer, len(built))
	for _, dom := range built {
		var peers []plua.Peer
		for _, other := range built {
			if other.Key == dom.Key {
				continue
			}
			peers = append(peers, plua.Peer{
				Name:   other.Key,
				Allows: other.Mask.Allows,
				Source: set.contents[other.Key],
			})
		}
		peersOf[dom.Key] = peers
	}
	for _, dom := range built {
		peers := peersOf[dom.Key]
		for i := range peers {
			peers[i].Peers = peersOf[peers[i].Name]
		}
		set.contexts[dom.Key].SetPeers(peers)
	}

	return set
}

// buildContent opens a domain's bundles, then extracts and opens their
// embedded archives. The archives opened so far are returned even on error
// so the caller can release them.
func (l *Loader) buildContent(ctx context.Context, set *LoadedModuleSet, dom *Domain) (*content, []*bundle.Archive, error) {
	c := newContent(dom.Key)
	var archives []*bundle.Archive

	opened := make([]*bundle.Archive, len(dom.Sources))
	for i, src := range dom.Sources {
		a, err := bundle.Open(src.BundlePath)
		if err != nil {
			return nil, archives, err
		}
		archives = append(archives, a)
		opened[i] = a
		c.add(ctx, a)
	}

	for i, src := range dom.Sources {
		if len(src.EmbeddedResources) == 0 {
			continue
		}
		slogcontext.Warn(ctx, "plugin uses deprecated embedded resources",
			"plugin", src.PluginKey, "resources", src.EmbeddedResources)

		sessionDir, err := l.ensureSessionDir(set)
		if err != nil {
			return nil, archives, err
		}
		for _, res := range src.EmbeddedResources {
			target, err := opened[i].Extract(res, filepath.Join(sessionDir, src.PluginKey))
			if err != nil {
				return nil, archives, err
			}
			set.tempPaths = append(set.tempPaths, target)

			nested, err := bundle.Open(target)
			if err != nil {
				return nil, archives, fmt.Errorf("embedded resource %s of %s: %w", res, src.PluginKey, err)
			}
			archives = append(archives, nested)
			c.add(ctx, nested)
		}
	}

	return c, archives, nil
}

func (s *LoadedModuleSet) fail(ctx context.Context, dom *Domain, err error) {
	slogcontext.Error(ctx, "domain excluded", "domain", dom.Key, "members", dom.Members, "error", err)
	s.failedDomains[dom.Key] = err
	for _, key := range dom.Members {
		s.failedPlugins[key] = err
	}
}
