// Package metrics provides Prometheus metrics of document state transitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docstate"

// Metrics tracks submitted transitions and their outcomes labeled by
// transition kind. Nil Metrics is a valid no-op.
type Metrics struct {
	Submitted           *prometheus.CounterVec
	Confirmed           *prometheus.CounterVec
	Rejected            *prometheus.CounterVec
	NetworkErrors       *prometheus.CounterVec
	ConfirmationSeconds *prometheus.HistogramVec
}

// New creates Metrics registered in reg. Nil reg leaves metrics unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_submitted_total",
			Help:      "Total number of state transitions broadcast to the platform",
		}, []string{"kind"}),
		Confirmed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_confirmed_total",
			Help:      "Total number of state transitions accepted by the platform",
		}, []string{"kind"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_rejected_total",
			Help:      "Total number of state transitions rejected by the platform",
		}, []string{"kind", "reason"}),
		NetworkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_network_errors_total",
			Help:      "Total number of state transitions with transport failures",
		}, []string{"kind"}),
		ConfirmationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transitions_confirmation_seconds",
			Help:      "Time from broadcast to the terminal outcome of the state transition",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
	}
}

// IncrementSubmitted records broadcast transition.
func (m *Metrics) IncrementSubmitted(kind string) {
	if m == nil {
		return
	}
	m.Submitted.WithLabelValues(kind).Inc()
}

// ObserveConfirmed records accepted transition broadcast at start.
func (m *Metrics) ObserveConfirmed(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.Confirmed.WithLabelValues(kind).Inc()
	m.ConfirmationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// IncrementRejected records transition rejected for the given reason.
func (m *Metrics) IncrementRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(kind, reason).Inc()
}

// IncrementNetworkErrors records transport failure of the transition.
func (m *Metrics) IncrementNetworkErrors(kind string) {
	if m == nil {
		return
	}
	m.NetworkErrors.WithLabelValues(kind).Inc()
}
