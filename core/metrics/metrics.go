// Package metrics exposes Prometheus collectors for the bot.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the bot collectors.
type Metrics struct {
	Registry *prometheus.Registry

	events           *prometheus.CounterVec
	eventErrors      *prometheus.CounterVec
	classifyDuration *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	inFlight         prometheus.Gauge
	updates          *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	sendFailures     prometheus.Counter
	shutdownRequests prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visionbot_events_total",
				Help: "Count of conversation events by kind and resulting action",
			},
			[]string{"kind", "action"},
		),
		eventErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visionbot_event_errors_total",
				Help: "Count of conversation events that ended with an error",
			},
			[]string{"kind", "error"},
		),
		classifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "visionbot_classify_duration_seconds",
				Help:    "Time taken by the classifier",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "visionbot_active_sessions",
				Help: "Current number of open conversations",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "visionbot_events_in_flight",
				Help: "Events accepted by the dispatcher and not finished yet",
			},
		),
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visionbot_updates_total",
				Help: "Count of Telegram updates by type and handler status",
			},
			[]string{"type", "status"},
		),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visionbot_messages_sent_total",
				Help: "Count of sent messages",
			},
			[]string{"keyboard"},
		),
		sendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "visionbot_send_failures_total",
				Help: "Count of outbound messages that failed after retries",
			},
		),
		shutdownRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "visionbot_shutdown_requests_total",
				Help: "Count of shutdown requests received from users",
			},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.eventErrors,
		m.classifyDuration,
		m.activeSessions,
		m.inFlight,
		m.updates,
		m.messagesSent,
		m.sendFailures,
		m.shutdownRequests,
	)
	return m
}

func (m *Metrics) Event(kind, action string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) EventError(kind, errKind string) {
	if m == nil {
		return
	}
	m.eventErrors.WithLabelValues(kind, errKind).Inc()
}

func (m *Metrics) ClassifyDuration(status string, seconds float64) {
	if m == nil {
		return
	}
	m.classifyDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

func (m *Metrics) Update(kind, status string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) MessageSent(keyboard string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(keyboard).Inc()
}

func (m *Metrics) SendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) ShutdownRequested() {
	if m == nil {
		return
	}
	m.shutdownRequests.Inc()
}
