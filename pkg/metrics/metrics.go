// Package metrics exposes Prometheus instrumentation for the signaling service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signaling service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	connectedClients prometheus.Gauge
	eventsTotal      *prometheus.CounterVec

	// Call signaling metrics
	callsTotal        *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	signalsRelayed    *prometheus.CounterVec
	envelopesDropped  *prometheus.CounterVec
	presenceBroadcast prometheus.Counter

	// Push notification metrics
	pushDispatchTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on a private registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		connectedClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "ws_connected_clients",
				Help:        "Number of currently connected WebSocket clients",
				ConstLabels: labels,
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "ws_events_total",
				Help:        "Total number of inbound WebSocket events by name",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		callsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_calls_total",
				Help:        "Total number of call control transitions",
				ConstLabels: labels,
			},
			[]string{"transition"}, // initiated, accepted, rejected, ended, user_offline
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "signaling_active_sessions",
				Help:        "Number of call sessions currently registered",
				ConstLabels: labels,
			},
		),
		signalsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_relayed_total",
				Help:        "Total number of negotiation envelopes relayed by type",
				ConstLabels: labels,
			},
			[]string{"type"}, // offer, answer, ice-candidate
		),
		envelopesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_envelopes_dropped_total",
				Help:        "Total number of envelopes dropped (unroutable or malformed)",
				ConstLabels: labels,
			},
			[]string{"reason"}, // offline, malformed, unknown_type
		),
		presenceBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_presence_broadcasts_total",
				Help:        "Total number of users:active snapshot broadcasts",
				ConstLabels: labels,
			},
		),
		pushDispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_dispatch_total",
				Help:        "Total number of offline-call push dispatch attempts",
				ConstLabels: labels,
			},
			[]string{"result"}, // sent, failed, no_tokens
		),
	}
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, seconds float64) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// ClientConnected increments the connected clients gauge
func (m *Metrics) ClientConnected() { m.connectedClients.Inc() }

// ClientDisconnected decrements the connected clients gauge
func (m *Metrics) ClientDisconnected() { m.connectedClients.Dec() }

// RecordEvent counts one inbound WebSocket event
func (m *Metrics) RecordEvent(event string) { m.eventsTotal.WithLabelValues(event).Inc() }

// RecordCallTransition counts one call control transition
func (m *Metrics) RecordCallTransition(transition string) {
	m.callsTotal.WithLabelValues(transition).Inc()
}

// SessionCreated increments the active sessions gauge
func (m *Metrics) SessionCreated() { m.activeSessions.Inc() }

// SessionDeleted decrements the active sessions gauge
func (m *Metrics) SessionDeleted() { m.activeSessions.Dec() }

// RecordSignalRelayed counts one relayed negotiation envelope
func (m *Metrics) RecordSignalRelayed(signalType string) {
	m.signalsRelayed.WithLabelValues(signalType).Inc()
}

// RecordEnvelopeDropped counts one dropped envelope
func (m *Metrics) RecordEnvelopeDropped(reason string) {
	m.envelopesDropped.WithLabelValues(reason).Inc()
}

// RecordPresenceBroadcast counts one users:active fan-out
func (m *Metrics) RecordPresenceBroadcast() { m.presenceBroadcast.Inc() }

// RecordPushDispatch counts one push dispatch attempt
func (m *Metrics) RecordPushDispatch(result string) {
	m.pushDispatchTotal.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
