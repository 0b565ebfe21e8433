package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	plua "github.com/dshills/analyzerhost/internal/plugin/lua"
	"github.com/dshills/analyzerhost/internal/version"
)

// Manager owns at most one LoadedModuleSet and serializes every load and
// unload cycle.
type Manager struct {
	// cycle serializes Load, Unload and Reload.
	cycle sync.Mutex

	// mu guards the fields below.
	mu sync.RWMutex

	set     *LoadedModuleSet
	results Results
	state   State
	lastErr error

	// Event handlers (protected by mu)
	eventHandlers []EventHandler

	discoverer   *Discoverer
	checker      *Checker
	hostVersions *version.HostVersions
	metrics      *Metrics

	config ManagerConfig
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// PluginPaths are directories to search for bundles.
	PluginPaths []string

	// EnabledLanguages are the languages the host analyzes.
	EnabledLanguages LanguageSet

	// CheckAuxRuntime enables the auxiliary runtime requirement.
	CheckAuxRuntime bool

	// TempRoot is where session directories for embedded resources go.
	TempRoot string

	// ExecutionTimeout bounds every call into a plugin.
	ExecutionTimeout time.Duration
}

// DefaultManagerConfig returns sensible default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PluginPaths:      DefaultPluginPaths(),
		EnabledLanguages: NewLanguageSet(),
		ExecutionTimeout: plua.DefaultExecutionTimeout,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics records session outcomes on m.
func WithMetrics(m *Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithChecker replaces the default requirements checker.
func WithChecker(c *Checker) ManagerOption {
	return func(mgr *Manager) {
		mgr.checker = c
	}
}

// EventHandler handles plugin manager events.
// Handlers must be non-blocking and should not call back into the Manager
// to avoid deadlocks. Panics in handlers are recovered.
type EventHandler func(event ManagerEvent)

// ManagerEvent represents a plugin manager event.
type ManagerEvent struct {
	Type   ManagerEventType
	Plugin string
	Domain string
	Skip   SkipReason
	Error  error
}

// ManagerEventType is the type of manager event.
type ManagerEventType int

const (
	// EventPluginLoaded is emitted for each instantiated plugin.
	EventPluginLoaded ManagerEventType = iota
	// EventPluginSkipped is emitted for each ineligible plugin.
	EventPluginSkipped
	// EventDomainFailed is emitted when a domain context cannot be built.
	EventDomainFailed
	// EventPluginFailed is emitted when an entry point cannot be constructed.
	EventPluginFailed
	// EventPluginsUnloaded is emitted once a session is torn down.
	EventPluginsUnloaded
)

// String returns a string representation of the event type.
func (t ManagerEventType) String() string {
	switch t {
	case EventPluginLoaded:
		return "loaded"
	case EventPluginSkipped:
		return "skipped"
	case EventDomainFailed:
		return "domain-failed"
	case EventPluginFailed:
		return "failed"
	case EventPluginsUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// NewManager creates a new plugin manager.
func NewManager(config ManagerConfig, hv *version.HostVersions, opts ...ManagerOption) *Manager {
	m := &Manager{
		discoverer:   NewDiscoverer(WithPaths(config.PluginPaths...)),
		hostVersions: hv,
		config:       config,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.checker == nil {
		m.checker = NewChecker()
	}
	return m
}

// Environment resolves what the host currently offers to plugins.
func (m *Manager) Environment(ctx context.Context) (Environment, error) {
	return NewEnvironment(ctx, m.hostVersions, m.config.EnabledLanguages, m.config.CheckAuxRuntime)
}

// Check discovers bundles and resolves their eligibility without loading
// anything.
func (m *Manager) Check(ctx context.Context) (Results, error) {
	env, err := m.Environment(ctx)
	if err != nil {
		return nil, err
	}
	return m.check(ctx, env)
}

func (m *Manager) check(ctx context.Context, env Environment) (Results, error) {
	descs, err := m.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	return m.checker.CheckRequirements(ctx, descs, env), nil
}

// Load runs a full cycle: discover, check, plan, build and instantiate.
// Domain and plugin failures are reported through events and the returned
// set; Load itself fails only when nothing could be attempted.
func (m *Manager) Load(ctx context.Context) (*LoadedModuleSet, error) {
	m.cycle.Lock()
	defer m.cycle.Unlock()
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (*LoadedModuleSet, error) {
	m.mu.Lock()
	if m.set != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	m.state = StateLoading
	m.mu.Unlock()

	start := time.Now()
	set, results, err := m.build(ctx)
	if err != nil {
		m.metrics.recordLoadError()
		m.mu.Lock()
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		return nil, err
	}

	skipped := results.Skipped()
	m.metrics.recordLoad(set, len(skipped), time.Since(start))

	m.mu.Lock()
	m.set = set
	m.results = results
	m.state = StateLoaded
	m.lastErr = nil
	m.mu.Unlock()

	for key, reason := range skipped {
		m.emitEvent(ManagerEvent{Type: EventPluginSkipped, Plugin: key, Skip: reason})
	}
	for key, err := range set.FailedDomains() {
		m.emitEvent(ManagerEvent{Type: EventDomainFailed, Domain: key, Error: err})
	}
	failed := set.FailedPlugins()
	for key, err := range failed {
		var ie *InstantiationError
		if errors.As(err, &ie) {
			m.emitEvent(ManagerEvent{Type: EventPluginFailed, Plugin: key, Error: err})
		}
	}
	instances := set.Instances()
	for _, inst := range instances {
		m.emitEvent(ManagerEvent{Type: EventPluginLoaded, Plugin: inst.Key, Domain: inst.Domain})
	}

	slogcontext.Info(ctx, "plugins loaded",
		"session", set.SessionID,
		"loaded", len(instances),
		"skipped", len(skipped),
		"failed", len(failed),
		"elapsed", time.Since(start))
	return set, nil
}

func (m *Manager) build(ctx context.Context) (*LoadedModuleSet, Results, error) {
	env, err := m.Environment(ctx)
	if err != nil {
		return nil, nil, err
	}
	results, err := m.check(ctx, env)
	if err != nil {
		return nil, nil, err
	}

	loader := NewLoader(
		WithTempRoot(m.tempRoot()),
		WithHostAPI(NewHostSurface(env)),
		WithLogs(plua.NewLogBridge(slogcontext.FromCtx(ctx))),
		WithCallTimeout(m.config.ExecutionTimeout),
	)
	set := loader.Build(ctx, PlanDomains(ctx, results.Eligible()))
	Instantiate(ctx, set)
	return set, results, nil
}

func (m *Manager) tempRoot() string {
	if m.config.TempRoot != "" {
		return m.config.TempRoot
	}
	return NewLoader().tempRoot
}

// Unload tears down the live module set. Every cleanup step is attempted;
// failures come back as one *CleanupError. The manager is unloaded
// afterwards either way.
func (m *Manager) Unload(ctx context.Context) error {
	m.cycle.Lock()
	defer m.cycle.Unlock()
	return m.unload(ctx)
}

func (m *Manager) unload(ctx context.Context) error {
	m.mu.Lock()
	set := m.set
	if set == nil {
		m.mu.Unlock()
		return ErrNotLoaded
	}
	m.state = StateUnloading
	m.mu.Unlock()

	err := Unload(ctx, set)
	m.metrics.recordUnload(err)

	m.mu.Lock()
	m.set = nil
	m.results = nil
	m.state = StateUnloaded
	m.lastErr = err
	m.mu.Unlock()

	m.emitEvent(ManagerEvent{Type: EventPluginsUnloaded, Error: err})
	return err
}

// Reload unloads the live set, if any, and loads again. Cleanup failures
// do not prevent the new load and are returned alongside its outcome.
func (m *Manager) Reload(ctx context.Context) (*LoadedModuleSet, error) {
	m.cycle.Lock()
	defer m.cycle.Unlock()

	var unloadErr error
	if err := m.unload(ctx); err != nil && !errors.Is(err, ErrNotLoaded) {
		unloadErr = fmt.Errorf("unloading previous session: %w", err)
	}
	set, err := m.load(ctx)
	return set, errors.Join(unloadErr, err)
}

// Loaded returns the live module set, or nil.
func (m *Manager) Loaded() *LoadedModuleSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set
}

// Results returns the eligibility results of the live session.
func (m *Manager) Results() Results {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results
}

// State returns the session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the error of the last cycle, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Paths returns the directories searched for bundles.
func (m *Manager) Paths() []string {
	return m.discoverer.Paths()
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (m *Manager) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {} // No-op for nil handlers
	}

	m.mu.Lock()
	m.eventHandlers = append(m.eventHandlers, handler)
	index := len(m.eventHandlers) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(m.eventHandlers) {
			m.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers.
// Handlers are called outside any locks and panics are recovered.
func (m *Manager) emitEvent(event ManagerEvent) {
	m.mu.RLock()
	handlers := make([]EventHandler, len(m.eventHandlers))
	copy(handlers, m.eventHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				recover() // Ignore panics from handlers
			}()
			handler(event)
		}()
	}
}
