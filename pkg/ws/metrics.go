package ws

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - счётчики одного запуска smoke-клиента.
// Все методы допускают nil-получатель.
type Metrics struct {
	transitions       *prometheus.CounterVec
	framesSent        prometheus.Counter
	messagesReceived  *prometheus.CounterVec
	errors            *prometheus.CounterVec
	handshakeDuration prometheus.Histogram

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wssmoke_state_transitions_total",
				Help: "Connection state transitions by source and target state",
			},
			[]string{"from", "to"},
		),

		framesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wssmoke_frames_sent_total",
				Help: "Total number of frames sent to the server",
			},
		),

		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wssmoke_messages_received_total",
				Help: "Total number of messages received by frame type",
			},
			[]string{"type"},
		),

		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wssmoke_errors_total",
				Help: "Total number of connection errors by kind",
			},
			[]string{"kind"},
		),

		handshakeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wssmoke_handshake_duration_seconds",
				Help:    "TLS handshake and WebSocket upgrade duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.transitions,
		m.framesSent,
		m.messagesReceived,
		m.errors,
		m.handshakeDuration,
	)

	return m
}

// Registry возвращает реестр для экспорта (promhttp, textfile).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// WriteTextfile пишет метрики в формате textfile collector node_exporter.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}

	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) recordTransition(from, to State) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) recordFrameSent() {
	if m == nil {
		return
	}

	m.framesSent.Inc()
}

func (m *Metrics) recordMessage(messageType int) {
	if m == nil {
		return
	}

	m.messagesReceived.WithLabelValues(messageTypeName(messageType)).Inc()
}

func (m *Metrics) recordError(kind ErrorKind) {
	if m == nil {
		return
	}

	m.errors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordHandshake(d time.Duration) {
	if m == nil {
		return
	}

	m.handshakeDuration.Observe(d.Seconds())
}
