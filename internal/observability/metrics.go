package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// RefreshMetrics holds the Prometheus collectors for the dataset refresher.
type RefreshMetrics struct {
	RunsTotal     *prometheus.CounterVec // labels: trigger, status
	RunsRejected  prometheus.Counter
	RunDuration   prometheus.Histogram
	RunRunning    prometheus.Gauge
	LastSuccessTS prometheus.Gauge

	// Fetch metrics.
	Fetches       *prometheus.CounterVec // labels: outcome={success,<failure kind>}
	FetchDuration prometheus.Histogram
	FetchCache    *prometheus.CounterVec // labels: result={hit,miss}

	// Merge and publish metrics.
	OrphanRecords   prometheus.Counter
	CarriedForward  prometheus.Counter
	DatasetRows     prometheus.Gauge
	PublishFailures prometheus.Counter
}

// NewRefreshMetrics creates the refresher metrics and registers them with the
// default Prometheus registry.
func NewRefreshMetrics() *RefreshMetrics {
	m := newRefreshMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunsRejected,
		m.RunDuration,
		m.RunRunning,
		m.LastSuccessTS,
		m.Fetches,
		m.FetchDuration,
		m.FetchCache,
		m.OrphanRecords,
		m.CarriedForward,
		m.DatasetRows,
		m.PublishFailures,
	)
	return m
}

// NewRefreshMetricsForTesting returns unregistered collectors so tests can
// create as many as they need without "already registered" panics.
func NewRefreshMetricsForTesting() *RefreshMetrics {
	return newRefreshMetrics()
}

func newRefreshMetrics() *RefreshMetrics {
	const ns = "flood_refresh"
	return &RefreshMetrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Completed update runs by trigger and status.",
		}, []string{"trigger", "status"}),
		RunsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_rejected_total",
			Help:      "Triggers rejected because a run was already in progress.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of an update run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "run_in_progress",
			Help:      "1 while an update run is executing, 0 when idle.",
		}),
		LastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish.",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "locality_fetches_total",
			Help:      "Per-locality forecast fetches by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "fetch_duration_seconds",
			Help:      "Forecast source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fetch_cache_total",
			Help:      "Forecast cache lookups by result.",
		}, []string{"result"}),
		OrphanRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orphan_records_total",
			Help:      "Forecast days dropped because no locality matched.",
		}),
		CarriedForward: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "carried_forward_total",
			Help:      "Localities whose previous records were carried forward.",
		}),
		DatasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "dataset_rows",
			Help:      "Rows in the most recently published dataset.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "publish_failures_total",
			Help:      "Publish attempts that left the shared dataset untouched.",
		}),
	}
}

// MonitorMetrics holds the Prometheus collectors for the health monitor.
type MonitorMetrics struct {
	Polls          *prometheus.CounterVec   // labels: verdict
	ProbeDuration  *prometheus.HistogramVec // labels: endpoint
	ProbeFailures  *prometheus.CounterVec   // labels: endpoint, kind
	CurrentVerdict *prometheus.GaugeVec     // labels: verdict; 1 for the current verdict
	HistorySamples prometheus.Gauge
	PollPanics     prometheus.Counter
}

// NewMonitorMetrics creates the monitor metrics and registers them with the
// default Prometheus registry.
func NewMonitorMetrics() *MonitorMetrics {
	m := newMonitorMetrics()
	prometheus.MustRegister(
		m.Polls,
		m.ProbeDuration,
		m.ProbeFailures,
		m.CurrentVerdict,
		m.HistorySamples,
		m.PollPanics,
	)
	return m
}

// NewMonitorMetricsForTesting returns unregistered monitor collectors.
func NewMonitorMetricsForTesting() *MonitorMetrics {
	return newMonitorMetrics()
}

func newMonitorMetrics() *MonitorMetrics {
	const ns = "flood_monitor"
	return &MonitorMetrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "polls_total",
			Help:      "Completed poll cycles by verdict.",
		}, []string{"verdict"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "probe_duration_seconds",
			Help:      "Prediction Service probe latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		ProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "probe_failures_total",
			Help:      "Failed probes by endpoint and error kind.",
		}, []string{"endpoint", "kind"}),
		CurrentVerdict: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "verdict",
			Help:      "1 for the current health verdict, 0 for the others.",
		}, []string{"verdict"}),
		HistorySamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "history_samples",
			Help:      "Health samples currently retained.",
		}),
		PollPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "poll_panics_total",
			Help:      "Poll cycles that panicked and were recovered.",
		}),
	}
}

// CounterValue reads the current value of a counter.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue reads the current value of a gauge.
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
