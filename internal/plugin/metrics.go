package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "analyzerhost"

// Metrics records load-session outcomes. A nil *Metrics records nothing.
type Metrics struct {
	// sessions counts load and unload cycles.
	// Labels: operation (load, unload), status (success, error)
	sessions *prometheus.CounterVec

	// loadDuration measures a full load: check, plan, build, instantiate.
	loadDuration prometheus.Histogram

	// plugins tracks plugins of the current session by outcome.
	// Labels: outcome (loaded, skipped, failed)
	plugins *prometheus.GaugeVec

	// domains tracks live isolation domains.
	domains prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugins",
			Name:      "sessions_total",
			Help:      "Plugin load and unload cycles by status",
		}, []string{"operation", "status"}),
		loadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugins",
			Name:      "load_duration_seconds",
			Help:      "Time to load all plugins",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		plugins: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugins",
			Name:      "current",
			Help:      "Plugins of the current session by outcome",
		}, []string{"outcome"}),
		domains: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "plugins",
			Name:      "domains",
			Help:      "Live isolation domains",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) recordLoad(set *LoadedModuleSet, skipped int, d time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("load", "success").Inc()
	m.loadDuration.Observe(d.Seconds())
	m.plugins.WithLabelValues("loaded").Set(float64(len(set.Instances())))
	m.plugins.WithLabelValues("failed").Set(float64(len(set.FailedPlugins())))
	m.plugins.WithLabelValues("skipped").Set(float64(skipped))
	m.domains.Set(float64(len(set.Domains())))
}

func (m *Metrics) recordLoadError() {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("load", "error").Inc()
}

func (m *Metrics) recordUnload(err error) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues("unload", status(err)).Inc()
	m.plugins.Reset()
	m.domains.Set(0)
}
