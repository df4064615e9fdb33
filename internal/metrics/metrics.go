// Package metrics exposes the manager's optional Prometheus
// instrumentation. It is a thin, independently-registerable collector set:
// callers that do not want metrics simply never call Register.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters and gauges the index manager updates.
type Metrics struct {
	BuildsStarted    prometheus.Counter
	BuildsCompleted  prometheus.Counter
	BuildsFailed     prometheus.Counter
	BuffersIndexed   prometheus.Gauge
	SearchesTotal    prometheus.Counter
	SyncDuration     prometheus.Histogram
	ChangesApplied   *prometheus.CounterVec
}

// New constructs a Metrics bundle with the given namespace (e.g.
// "deepin_anything"). Registration is the caller's responsibility via
// Register, so tests can construct a Metrics without touching the default
// registry.
func New(namespace string) *Metrics {
	return &Metrics{
		BuildsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_started_total",
			Help:      "Background index builds started.",
		}),
		BuildsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_completed_total",
			Help:      "Background index builds completed successfully.",
		}),
		BuildsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_failed_total",
			Help:      "Background index builds that failed or were cancelled.",
		}),
		BuffersIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers_indexed",
			Help:      "FS buffers currently held in memory by the manager.",
		}),
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search requests served.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Time spent flushing dirty buffers to their cache files.",
			Buckets:   prometheus.DefBuckets,
		}),
		ChangesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Buffer mutations applied, labeled by kind.",
		}, []string{"kind"}),
	}
}

// Register registers every collector in m with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.BuildsStarted, m.BuildsCompleted, m.BuildsFailed,
		m.BuffersIndexed, m.SearchesTotal, m.SyncDuration, m.ChangesApplied,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
