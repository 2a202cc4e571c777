package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ydb_harness_nodes_total",
			Help: "Total number of cluster members by role and state",
		},
		[]string{"role", "state"},
	)

	ClusterState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ydb_harness_cluster_state",
			Help: "Current orchestrator state (1 for the active state)",
		},
		[]string{"cluster", "state"},
	)

	BringUpDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ydb_harness_bring_up_duration_seconds",
			Help:    "Time taken to bring a cluster up in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 240, 480},
		},
	)

	// Node metrics
	NodeStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ydb_harness_node_starts_total",
			Help: "Total number of node process starts by role",
		},
		[]string{"role"},
	)

	NodeStopFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ydb_harness_node_stop_failures_total",
			Help: "Total number of failed node stops by role",
		},
		[]string{"role"},
	)

	// Control plane metrics
	ControlRequestAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ydb_harness_control_request_attempts_total",
			Help: "Total number of control-plane request attempts by command and result",
		},
		[]string{"command", "result"},
	)

	ReadinessPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ydb_harness_readiness_polls_total",
			Help: "Total number of storage controller readiness checks",
		},
	)

	StoragePoolsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ydb_harness_storage_pools_total",
			Help: "Total number of storage pools defined",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ClusterState)
	prometheus.MustRegister(BringUpDuration)
	prometheus.MustRegister(NodeStartsTotal)
	prometheus.MustRegister(NodeStopFailuresTotal)
	prometheus.MustRegister(ControlRequestAttemptsTotal)
	prometheus.MustRegister(ReadinessPollsTotal)
	prometheus.MustRegister(StoragePoolsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in h
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in h under labels
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
