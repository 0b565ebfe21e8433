package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/analyzerhost/internal/plugin/bundle/bundletest"
	"github.com/dshills/analyzerhost/internal/version"
)

func testHostVersions() *version.HostVersions {
	return version.NewHostVersions(version.MustParse("10.4"),
		version.WithRuntime(version.Static(version.MustParse("1.24.2"))),
	)
}

func newTestManager(t *testing.T, pluginsDir string, opts ...ManagerOption) *Manager {
	t.Helper()
	config := ManagerConfig{
		PluginPaths:      []string{pluginsDir},
		EnabledLanguages: NewLanguageSet("go"),
		TempRoot:         t.TempDir(),
		ExecutionTimeout: time.Second,
	}
	opts = append([]ManagerOption{WithChecker(NewChecker(WithMinVersions(emptyMinVersions(t))))}, opts...)
	m := NewManager(config, testHostVersions(), opts...)
	t.Cleanup(func() { _ = m.Unload(context.Background()) })
	return m
}

func writeTestPlugins(t *testing.T, dir string) {
	t.Helper()
	bundletest.Write(t, dir, bundletest.Manifest{Key: "go", Version: "1.0", EntryPoint: "main", Languages: []string{"go"}},
		map[string]string{"main.lua": bundletest.EntryModule("go")})
	bundletest.Write(t, dir, bundletest.Manifest{Key: "gomod", Version: "1.0", EntryPoint: "gomod", BasePlugin: "go"},
		map[string]string{"gomod.lua": bundletest.EntryModule("gomod")})
	bundletest.Write(t, dir, bundletest.Manifest{Key: "java", Version: "1.0", EntryPoint: "main", Languages: []string{"java"}},
		map[string]string{"main.lua": bundletest.EntryModule("java")})
	bundletest.Write(t, dir, bundletest.Manifest{Key: "broken", Version: "1.0", EntryPoint: "missing"}, nil)
}

func TestNewManager(t *testing.T) {
	m := NewManager(DefaultManagerConfig(), testHostVersions())

	if m == nil {
		t.Fatal("NewManager() returned nil")
	}
	if m.checker == nil {
		t.Error("Manager.checker is nil")
	}
	if m.State() != StateUnloaded {
		t.Errorf("State() = %v, want %v", m.State(), StateUnloaded)
	}
	if m.Loaded() != nil {
		t.Error("Loaded() should be nil before Load")
	}
}

func TestManagerCheck(t *testing.T) {
	dir := t.TempDir()
	writeTestPlugins(t, dir)
	m := newTestManager(t, dir)

	results, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("Check() returned %d results, want 4", len(results))
	}
	if _, ok := results["java"].Skip.(LanguagesNotEnabled); !ok {
		t.Errorf("java skip = %#v, want LanguagesNotEnabled", results["java"].Skip)
	}
	if m.Loaded() != nil {
		t.Error("Check() must not load anything")
	}
}

func TestManagerLoadUnload(t *testing.T) {
	dir := t.TempDir()
	writeTestPlugins(t, dir)

	reg := prometheus.NewRegistry()
	m := newTestManager(t, dir, WithMetrics(NewMetrics(reg)))

	var mu sync.Mutex
	events := make(map[ManagerEventType][]string)
	unsubscribe := m.Subscribe(func(e ManagerEvent) {
		mu.Lock()
		defer mu.Unlock()
		events[e.Type] = append(events[e.Type], e.Plugin)
	})
	defer unsubscribe()

	set, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.State() != StateLoaded {
		t.Errorf("State() = %v, want loaded", m.State())
	}
	if m.Loaded() != set {
		t.Error("Loaded() does not return the live set")
	}

	for _, key := range []string{"go", "gomod"} {
		inst, ok := set.Instance(key)
		if !ok {
			t.Fatalf("instance %q missing", key)
		}
		got, err := inst.Call(context.Background(), "describe")
		if err != nil {
			t.Fatalf("describe %q: %v", key, err)
		}
		if len(got) != 1 || got[0] != key {
			t.Errorf("describe %q = %v", key, got)
		}
	}
	if _, ok := set.Instance("broken"); ok {
		t.Error("broken plugin should not be instantiated")
	}

	mu.Lock()
	if len(events[EventPluginLoaded]) != 2 {
		t.Errorf("loaded events = %v, want 2", events[EventPluginLoaded])
	}
	if len(events[EventPluginSkipped]) != 1 || events[EventPluginSkipped][0] != "java" {
		t.Errorf("skipped events = %v, want [java]", events[EventPluginSkipped])
	}
	if len(events[EventPluginFailed]) != 1 || events[EventPluginFailed][0] != "broken" {
		t.Errorf("failed events = %v, want [broken]", events[EventPluginFailed])
	}
	mu.Unlock()

	if got := testutil.ToFloat64(m.metrics.plugins.WithLabelValues("loaded")); got != 2 {
		t.Errorf("loaded gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.metrics.domains); got != 2 {
		t.Errorf("domains gauge = %v, want 2", got)
	}

	if _, err := m.Load(context.Background()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load() error = %v, want ErrAlreadyLoaded", err)
	}

	if err := m.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if m.State() != StateUnloaded {
		t.Errorf("State() = %v, want unloaded", m.State())
	}
	if m.Loaded() != nil {
		t.Error("Loaded() should be nil after Unload")
	}
	if err := m.Unload(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second Unload() error = %v, want ErrNotLoaded", err)
	}
	if got := testutil.ToFloat64(m.metrics.sessions.WithLabelValues("unload", "success")); got != 1 {
		t.Errorf("unload counter = %v, want 1", got)
	}
}

func TestManagerReload(t *testing.T) {
	dir := t.TempDir()
	writeTestPlugins(t, dir)
	m := newTestManager(t, dir)

	first, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() from unloaded error = %v", err)
	}
	second, err := m.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if first.SessionID == second.SessionID {
		t.Error("Reload() should start a new session")
	}
	if _, ok := first.Context("go"); ok {
		t.Error("previous session should be released")
	}
	if _, ok := second.Instance("go"); !ok {
		t.Error("go missing after reload")
	}
}

func TestManagerLoadDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	bundletest.WriteFiles(t, dir, "a1.zip", map[string][]byte{"plugin.json": []byte(`{"key":"a","version":"1.0","entryPoint":"main"}`)})
	bundletest.WriteFiles(t, dir, "a2.zip", map[string][]byte{"plugin.json": []byte(`{"key":"a","version":"2.0","entryPoint":"main"}`)})

	reg := prometheus.NewRegistry()
	m := newTestManager(t, dir, WithMetrics(NewMetrics(reg)))

	_, err := m.Load(context.Background())
	var dup *DuplicatePluginKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("Load() error = %v, want DuplicatePluginKeyError", err)
	}
	if m.State() != StateError {
		t.Errorf("State() = %v, want error", m.State())
	}
	if !errors.Is(m.Err(), err) {
		t.Errorf("Err() = %v", m.Err())
	}
	if got := testutil.ToFloat64(m.metrics.sessions.WithLabelValues("load", "error")); got != 1 {
		t.Errorf("load error counter = %v, want 1", got)
	}
}

func TestManagerSubscribe(t *testing.T) {
	dir := t.TempDir()
	writeTestPlugins(t, dir)
	m := newTestManager(t, dir)

	count := 0
	unsubscribe := m.Subscribe(func(ManagerEvent) { count++ })
	m.Subscribe(func(ManagerEvent) { panic("handler panics are recovered") })
	m.Subscribe(nil)

	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if count == 0 {
		t.Fatal("handler not called")
	}

	unsubscribe()
	before := count
	if err := m.Unload(context.Background()); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if count != before {
		t.Error("handler called after unsubscribe")
	}
}

func TestManagerEventTypeString(t *testing.T) {
	tests := []struct {
		typ  ManagerEventType
		want string
	}{
		{EventPluginLoaded, "loaded"},
		{EventPluginSkipped, "skipped"},
		{EventDomainFailed, "domain-failed"},
		{EventPluginFailed, "failed"},
		{EventPluginsUnloaded, "unloaded"},
		{ManagerEventType(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
		busy  bool
	}{
		{StateUnloaded, "unloaded", false},
		{StateLoading, "loading", true},
		{StateLoaded, "loaded", false},
		{StateUnloading, "unloading", true},
		{StateError, "error", false},
		{State(42), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.state.IsBusy(); got != tt.busy {
			t.Errorf("%s.IsBusy() = %v, want %v", tt.state, got, tt.busy)
		}
	}
}

type reloadCounter struct {
	mu    sync.Mutex
	calls int
	done  chan struct{}
}

func (r *reloadCounter) Reload(context.Context) (*LoadedModuleSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 1 {
		close(r.done)
	}
	return nil, nil
}

func TestWatcherDebouncesReload(t *testing.T) {
	dir := t.TempDir()
	r := &reloadCounter{done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, r, []string{dir, dir + "/missing"}, WithReloadDelay(100*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if len(w.WatchedPaths()) != 1 {
		t.Fatalf("WatchedPaths() = %v, want only the existing directory", w.WatchedPaths())
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = w.Run(ctx)
	}()

	bundletest.Write(t, dir, bundletest.Manifest{Key: "a", Version: "1.0", EntryPoint: "main"}, nil)
	bundletest.Write(t, dir, bundletest.Manifest{Key: "b", Version: "1.0", EntryPoint: "main"}, nil)
	bundletest.WriteFiles(t, dir, "notes.txt", map[string][]byte{"x": []byte("y")})

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}

	time.Sleep(300 * time.Millisecond)
	cancel()
	<-stopped

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls != 1 {
		t.Errorf("Reload called %d times, want 1", r.calls)
	}
}
