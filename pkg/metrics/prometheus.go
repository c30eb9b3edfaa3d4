package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the realtime service.
// All methods are safe on a nil receiver so collaborators may run without metrics.
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	callsStartedTotal *prometheus.CounterVec
	callsEndedTotal   *prometheus.CounterVec
	callsActive       *prometheus.GaugeVec
	callsDuration     *prometheus.HistogramVec

	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec

	signalingErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
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
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of registered realtime connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Realtime events by name and direction",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		callsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_started_total",
				Help:        "Calls initiated by kind (direct, group) and media type",
				ConstLabels: labels,
			},
			[]string{"kind", "call_type"},
		),
		callsEndedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_ended_total",
				Help:        "Calls reaching a terminal status",
				ConstLabels: labels,
			},
			[]string{"kind", "status"},
		),
		callsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Calls currently in progress",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		callsDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of answered calls",
				ConstLabels: labels,
				Buckets:     []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"kind"},
		),
		pushNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Push notifications handed to a provider",
				ConstLabels: labels,
			},
			[]string{"category"},
		),
		pushNotificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Push notifications the provider rejected",
				ConstLabels: labels,
			},
			[]string{"category"},
		),
		signalingErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signaling_errors_total",
				Help:        "Errors returned to realtime actors by code",
				ConstLabels: labels,
			},
			[]string{"event", "code"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// SetWebSocketConnections sets the number of registered connections
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records an inbound or outbound event
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordCallStarted counts a newly created call and marks it active
func (m *Metrics) RecordCallStarted(kind, callType string) {
	if m == nil {
		return
	}
	m.callsStartedTotal.WithLabelValues(kind, callType).Inc()
	m.callsActive.WithLabelValues(kind).Inc()
}

// RecordCallEnded counts a call reaching a terminal status
func (m *Metrics) RecordCallEnded(kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsEndedTotal.WithLabelValues(kind, status).Inc()
	m.callsActive.WithLabelValues(kind).Dec()
	if duration > 0 {
		m.callsDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordPushNotification records a push send and whether the provider failed it
func (m *Metrics) RecordPushNotification(category string, failed bool) {
	if m == nil {
		return
	}
	m.pushNotificationsTotal.WithLabelValues(category).Inc()
	if failed {
		m.pushNotificationsFailed.WithLabelValues(category).Inc()
	}
}

// RecordSignalingError records an error event sent back to an actor
func (m *Metrics) RecordSignalingError(event, code string) {
	if m == nil {
		return
	}
	m.signalingErrorsTotal.WithLabelValues(event, code).Inc()
}
