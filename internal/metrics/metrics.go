// Package metrics holds the Prometheus collectors for the challenge service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	samplesAccepted *prometheus.CounterVec
	samplesDropped  *prometheus.CounterVec
	completed       *prometheus.CounterVec
	percent         prometheus.Histogram
	heartRate       *prometheus.GaugeVec
	activeSessions  prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mandala",
			Name:      "samples_accepted_total",
			Help:      "Sensor samples stored in a session buffer.",
		}, []string{"source"}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mandala",
			Name:      "samples_dropped_total",
			Help:      "Sensor lines rejected as malformed or dropped on a full queue.",
		}, []string{"source"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mandala",
			Name:      "challenges_completed_total",
			Help:      "Completed challenge attempts.",
		}, []string{"variant"}),
		percent: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mandala",
			Name:      "percent_in_target",
			Help:      "Share of the challenge window spent on target.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		heartRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mandala",
			Name:      "heart_rate_bpm",
			Help:      "Latest smoothed heart-rate estimate.",
		}, []string{"team"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mandala",
			Name:      "active_sessions",
			Help:      "Team sessions currently running.",
		}),
	}
	reg.MustRegister(m.samplesAccepted, m.samplesDropped, m.completed, m.percent, m.heartRate, m.activeSessions)
	return m
}

func (m *Metrics) SampleAccepted(source string) {
	if m == nil {
		return
	}
	m.samplesAccepted.WithLabelValues(source).Inc()
}

func (m *Metrics) SamplesDropped(source string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.samplesDropped.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) Completed(variant string, percent float64) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(variant).Inc()
	m.percent.Observe(percent)
}

func (m *Metrics) HeartRate(team string, bpm float64) {
	if m == nil {
		return
	}
	m.heartRate.WithLabelValues(team).Set(bpm)
}

// SessionStarted and SessionStopped track running team sessions.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionStopped(team string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.heartRate.DeleteLabelValues(team)
}
