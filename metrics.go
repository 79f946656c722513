package mta

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the named gauges tracking active sessions, tasks, and
// envelope throughput. A zero-value Metrics is safe to use: all
// accessor methods are nil-receiver safe no-ops, mirroring the
// library's Null-object conventions used elsewhere in this package.
type Metrics struct {
	Session     prometheus.Gauge
	Task        prometheus.Gauge
	TaskRunning prometheus.Gauge
	Envelope    prometheus.Gauge
}

// NewMetrics creates and registers the four gauges against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Session: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mta_session",
			Help: "Number of active outbound SMTP sessions.",
		}),
		Task: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mta_task",
			Help: "Number of tasks currently attached to a session.",
		}),
		TaskRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mta_task_running",
			Help: "Number of tasks actively streaming a DATA body.",
		}),
		Envelope: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mta_envelope",
			Help: "Number of envelopes awaiting a verdict.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Session, m.Task, m.TaskRunning, m.Envelope)
	}

	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil || m.Session == nil {
		return
	}
	m.Session.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil || m.Session == nil {
		return
	}
	m.Session.Dec()
}

func (m *Metrics) taskAttached() {
	if m == nil || m.Task == nil {
		return
	}
	m.Task.Inc()
}

func (m *Metrics) taskFlushed() {
	if m == nil || m.Task == nil {
		return
	}
	m.Task.Dec()
}

func (m *Metrics) taskRunningStarted() {
	if m == nil || m.TaskRunning == nil {
		return
	}
	m.TaskRunning.Inc()
}

func (m *Metrics) taskRunningEnded() {
	if m == nil || m.TaskRunning == nil {
		return
	}
	m.TaskRunning.Dec()
}

func (m *Metrics) envelopeOpened(n int) {
	if m == nil || m.Envelope == nil {
		return
	}
	m.Envelope.Add(float64(n))
}

func (m *Metrics) envelopeSettled(n int) {
	if m == nil || m.Envelope == nil {
		return
	}
	m.Envelope.Sub(float64(n))
}
