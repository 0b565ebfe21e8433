// Package app wires configuration, host versions, the plugin manager and
// its metrics into a runnable analyzer host.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/analyzerhost/internal/config"
	"github.com/dshills/analyzerhost/internal/plugin"
	"github.com/dshills/analyzerhost/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Application is the analyzer host: one plugin manager plus the optional
// watch loop and metrics endpoint around it.
type Application struct {
	config   config.Config
	manager  *plugin.Manager
	registry *prometheus.Registry
	logger   *slog.Logger

	unsubscribe func()
	running     atomic.Bool
}

// Options configures the application.
type Options struct {
	// Config holds the loaded settings.
	Config config.Config

	// Registry receives the plugin metrics. A fresh registry is created
	// when nil.
	Registry *prometheus.Registry

	// Logger receives manager events. Defaults to slog.Default().
	Logger *slog.Logger
}

// New creates an Application from opts.
func New(opts Options) (*Application, error) {
	app := &Application{
		config:   opts.Config,
		registry: opts.Registry,
		logger:   opts.Logger,
	}
	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if app.logger == nil {
		app.logger = slog.Default()
	}

	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap builds the manager in dependency order.
func (app *Application) bootstrap() error {
	cfg := app.config

	// 1. Host versions
	api, err := version.Parse(cfg.Host.APIVersion)
	if err != nil {
		return &InitError{Component: "host versions", Err: err}
	}
	var hostOpts []version.HostOption
	if cfg.Runtime.CheckAuxRuntime {
		hostOpts = append(hostOpts, version.WithAuxRuntime(version.NodeJS(cfg.Runtime.AuxRuntimeCommand)))
	}
	hv := version.NewHostVersions(api, hostOpts...)

	// 2. Requirements checker
	mins, err := plugin.DefaultMinVersions().With(cfg.Plugins.MinVersions)
	if err != nil {
		return &InitError{Component: "minimum versions", Err: err}
	}
	checker := plugin.NewChecker(plugin.WithMinVersions(mins))

	// 3. Plugin manager
	app.manager = plugin.NewManager(ManagerConfig(cfg), hv,
		plugin.WithChecker(checker),
		plugin.WithMetrics(plugin.NewMetrics(app.registry)),
	)
	app.unsubscribe = app.manager.Subscribe(app.logEvent)
	return nil
}

// ManagerConfig maps settings onto the plugin manager configuration.
func ManagerConfig(cfg config.Config) plugin.ManagerConfig {
	mc := plugin.DefaultManagerConfig()
	if len(cfg.Plugins.Paths) > 0 {
		mc.PluginPaths = cfg.Plugins.Paths
	}
	langs := make([]plugin.Language, 0, len(cfg.Plugins.EnabledLanguages))
	for _, l := range cfg.Plugins.EnabledLanguages {
		langs = append(langs, plugin.Language(l))
	}
	mc.EnabledLanguages = plugin.NewLanguageSet(langs...)
	mc.CheckAuxRuntime = cfg.Runtime.CheckAuxRuntime
	mc.TempRoot = cfg.Plugins.TempDir
	if d := cfg.Lua.ExecutionTimeout.Std(); d > 0 {
		mc.ExecutionTimeout = d
	}
	return mc
}

func (app *Application) logEvent(e plugin.ManagerEvent) {
	switch e.Type {
	case plugin.EventPluginLoaded:
		app.logger.Debug("plugin loaded", "plugin", e.Plugin, "domain", e.Domain)
	case plugin.EventPluginSkipped:
		app.logger.Info("plugin skipped", "plugin", e.Plugin, "reason", e.Skip.Explain())
	case plugin.EventDomainFailed:
		app.logger.Error("plugin domain failed", "domain", e.Domain, "error", e.Error)
	case plugin.EventPluginFailed:
		app.logger.Error("plugin failed to start", "plugin", e.Plugin, "error", e.Error)
	case plugin.EventPluginsUnloaded:
		app.logger.Debug("plugins unloaded")
	}
}

// Manager returns the plugin manager.
func (app *Application) Manager() *plugin.Manager {
	return app.manager
}

// Registry returns the metrics registry.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func (app *Application) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry})
}

// Run loads every plugin, then reloads on bundle changes until ctx is done.
// When a metrics address is configured it is served alongside. Plugins are
// unloaded before Run returns.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	if _, err := app.manager.Load(ctx); err != nil {
		return err
	}
	defer app.unload(context.WithoutCancel(ctx))

	w, err := plugin.NewWatcher(ctx, app.manager, app.manager.Paths(),
		plugin.WithReloadDelay(app.config.Plugins.ReloadDelay.Std()))
	if err != nil {
		return &InitError{Component: "watcher", Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})

	if addr := app.config.Metrics.Address; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.MetricsHandler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Go(func() error {
			slogcontext.Info(gctx, "serving metrics", "address", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	return g.Wait()
}

func (app *Application) unload(ctx context.Context) {
	if err := app.manager.Unload(ctx); err != nil && !errors.Is(err, plugin.ErrNotLoaded) {
		slogcontext.Error(ctx, "unloading plugins", "error", err)
	}
}

// Shutdown unloads any live session and detaches the event logger.
func (app *Application) Shutdown(ctx context.Context) {
	app.unload(ctx)
	if app.unsubscribe != nil {
		app.unsubscribe()
	}
}
