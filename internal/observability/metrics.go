package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// analysis and maintenance workflows.
type Metrics struct {
	AlertsIngested prometheus.Counter
	ClustersFormed prometheus.Counter
	NoiseAlerts    prometheus.Counter
	RunDuration    prometheus.Histogram

	// Freshness metrics.
	ProbeResults   *prometheus.CounterVec // label: liveness={live,expired,unknown}
	ProbeDuration  prometheus.Histogram
	StaleArtifacts prometheus.Gauge

	// Regeneration metrics.
	Regenerations *prometheus.CounterVec // label: result={success,failure,noop}
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.AlertsIngested,
		m.ClustersFormed,
		m.NoiseAlerts,
		m.RunDuration,
		m.ProbeResults,
		m.ProbeDuration,
		m.StaleArtifacts,
		m.Regenerations,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AlertsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_engine",
			Name:      "alerts_ingested_total",
			Help:      "Total alert points ingested across runs.",
		}),
		ClustersFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_engine",
			Name:      "clusters_formed_total",
			Help:      "Total incident clusters formed.",
		}),
		NoiseAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alert_engine",
			Name:      "noise_alerts_total",
			Help:      "Alerts classified as noise (no incident).",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alert_engine",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete analysis run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_engine",
			Name:      "probe_results_total",
			Help:      "Tile URL probes by observed liveness.",
		}, []string{"liveness"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "alert_engine",
			Name:      "probe_duration_seconds",
			Help:      "Duration of a single tile liveness probe.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		StaleArtifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alert_engine",
			Name:      "stale_artifacts",
			Help:      "Artifacts with at least one non-live embedded reference after the last check cycle.",
		}),
		Regenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alert_engine",
			Name:      "regenerations_total",
			Help:      "Artifact regenerations by result.",
		}, []string{"result"}),
	}
}
