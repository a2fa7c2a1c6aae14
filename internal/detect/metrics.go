package detect

import "github.com/prometheus/client_golang/prometheus"

// Prometheus detection metrics.
var (
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "twinhub_detection_pass_duration_seconds",
			Help:    "Duration of a single detection pass.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)
	candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinhub_detection_candidates_total",
			Help: "Candidate anomalies produced by the scorers, before filtering.",
		},
		[]string{"type"},
	)
	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinhub_anomalies_total",
			Help: "Anomaly events emitted by the detector.",
		},
		[]string{"type", "severity"},
	)
	baselineComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinhub_baseline_computations_total",
			Help: "Baselines computed, by sensor type.",
		},
		[]string{"sensor"},
	)
	readingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinhub_readings_ingested_total",
			Help: "Samples accepted by the detector, by kind.",
		},
		[]string{"kind"},
	)
	readingsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "twinhub_readings_rejected_total",
			Help: "Samples rejected as invalid.",
		},
	)
	devicesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "twinhub_devices_evicted_total",
			Help: "Idle devices dropped from the detector.",
		},
	)
	scorerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twinhub_scorer_failures_total",
			Help: "Scorer runs skipped because of invalid input or a panic.",
		},
		[]string{"scorer"},
	)
)

func init() {
	prometheus.MustRegister(
		passDuration,
		candidatesTotal,
		anomaliesTotal,
		baselineComputations,
		readingsIngested,
		readingsRejected,
		devicesEvicted,
		scorerFailures,
	)
}
