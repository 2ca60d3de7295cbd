// Package prom provides Prometheus instrumentation for key pools and rotated requests.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/keyrotor"
)

// Meter records pool and rotation events as Prometheus metrics.
type Meter struct {
	Selections      *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	Resets          *prometheus.CounterVec
	KeysAvailable   *prometheus.GaugeVec
}

var _ keyrotor.Meter = (*Meter)(nil)

// New creates a Meter and registers its collectors with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Meter {
	f := promauto.With(reg)
	return &Meter{
		Selections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrotor_selections_total",
				Help: "Key selections by pool and outcome.",
			},
			[]string{"pool", "outcome"}, // outcome: "selected" or "exhausted"
		),
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrotor_attempts_total",
				Help: "Rotated request attempts by provider and resulting state.",
			},
			[]string{"provider", "state"},
		),
		AttemptDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyrotor_attempt_duration_seconds",
				Help:    "Provider call latency per attempt in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider", "state"},
		),
		Resets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrotor_resets_total",
				Help: "Daily counter resets by pool.",
			},
			[]string{"pool"},
		),
		KeysAvailable: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keyrotor_keys_available",
				Help: "Keys below the daily limit after the last selection.",
			},
			[]string{"pool"},
		),
	}
}

func (m *Meter) OnSelect(e keyrotor.SelectEvent) {
	outcome := "selected"
	if !e.OK {
		outcome = "exhausted"
	}
	m.Selections.WithLabelValues(e.Pool, outcome).Inc()
	m.KeysAvailable.WithLabelValues(e.Pool).Set(float64(e.Available))
}

func (m *Meter) OnAttempt(e keyrotor.AttemptEvent) {
	state := e.State.String()
	m.Attempts.WithLabelValues(e.Provider, state).Inc()
	if e.State != keyrotor.StateExhausted || e.Duration > 0 {
		m.AttemptDuration.WithLabelValues(e.Provider, state).Observe(e.Duration.Seconds())
	}
}

func (m *Meter) OnReset(e keyrotor.ResetEvent) {
	m.Resets.WithLabelValues(e.Pool).Inc()
}
