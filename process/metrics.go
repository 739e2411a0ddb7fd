package process

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records supervisor metrics.
type MetricsCollector interface {
	// StateTransition records an instance state change.
	StateTransition(suiteID string, from, to State)
	// ReadyDuration records how long an instance took to become ready, or to fail.
	ReadyDuration(suiteID string, d time.Duration, err error)
	// StopDuration records how long a stop took and whether SIGKILL was needed.
	StopDuration(suiteID string, d time.Duration, forced bool)
}

type noopMetrics struct{}

func (noopMetrics) StateTransition(string, State, State)       {}
func (noopMetrics) ReadyDuration(string, time.Duration, error) {}
func (noopMetrics) StopDuration(string, time.Duration, bool)   {}

// NewNoopMetrics returns a collector that records nothing.
func NewNoopMetrics() MetricsCollector { return noopMetrics{} }

// PrometheusMetrics implements MetricsCollector with Prometheus metrics.
type PrometheusMetrics struct {
	transitions *prometheus.CounterVec
	ready       *prometheus.HistogramVec
	stops       *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collector and registers it with reg.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if namespace == "" {
		namespace = "e2ekit"
	}
	m := &PrometheusMetrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "app",
				Name:      "state_transitions_total",
				Help:      "Total number of application instance state transitions",
			},
			[]string{"suite_id", "from_state", "to_state"},
		),
		ready: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "app",
				Name:      "ready_duration_seconds",
				Help:      "Time from spawn until the application answered HTTP",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"suite_id", "status"},
		),
		stops: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "app",
				Name:      "stop_duration_seconds",
				Help:      "Time from SIGTERM until the application exited",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"suite_id", "forced"},
		),
	}
	reg.MustRegister(m.transitions, m.ready, m.stops)
	return m
}

func (m *PrometheusMetrics) StateTransition(suiteID string, from, to State) {
	m.transitions.WithLabelValues(suiteID, from.String(), to.String()).Inc()
}

func (m *PrometheusMetrics) ReadyDuration(suiteID string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ready.WithLabelValues(suiteID, status).Observe(d.Seconds())
}

func (m *PrometheusMetrics) StopDuration(suiteID string, d time.Duration, forced bool) {
	label := "false"
	if forced {
		label = "true"
	}
	m.stops.WithLabelValues(suiteID, label).Observe(d.Seconds())
}
