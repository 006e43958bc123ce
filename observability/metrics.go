package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges for ingest runs.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec // labels: status={completed,failed}
	SitesFetched         prometheus.Counter
	SitesSkipped         prometheus.Counter
	ObservationsInserted prometheus.Counter
	FetchErrors          *prometheus.CounterVec // labels: kind={network,parse}
	ExportRows           prometheus.Gauge
	RunDuration          prometheus.Histogram
	LastSuccess          prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecocounter",
			Name:      "runs_total",
			Help:      "Ingest runs by final status.",
		}, []string{"status"}),
		SitesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecocounter",
			Name:      "sites_fetched_total",
			Help:      "Sites whose count series was downloaded.",
		}),
		SitesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecocounter",
			Name:      "sites_skipped_total",
			Help:      "Aggregate catalog rows that were not downloaded.",
		}),
		ObservationsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ecocounter",
			Name:      "observations_inserted_total",
			Help:      "Count observations written to the database.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ecocounter",
			Name:      "fetch_errors_total",
			Help:      "Upstream failures by kind.",
		}, []string{"kind"}),
		ExportRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecocounter",
			Name:      "export_rows",
			Help:      "Rows written by the last export.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ecocounter",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete ingest run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ecocounter",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed run.",
		}),
	}
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.RunsTotal,
		m.SitesFetched,
		m.SitesSkipped,
		m.ObservationsInserted,
		m.FetchErrors,
		m.ExportRows,
		m.RunDuration,
		m.LastSuccess,
	)
	return m
}

// NewMetricsForTesting returns unregistered metrics so tests can create as
// many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
