package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lantern",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lantern",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lantern",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	notificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lantern",
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Total number of notifications created.",
		},
		[]string{"type"},
	)

	emailDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lantern",
			Subsystem: "mailer",
			Name:      "deliveries_total",
			Help:      "Total number of email delivery attempts by outcome.",
		},
		[]string{"status"},
	)

	emailSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lantern",
			Subsystem: "mailer",
			Name:      "send_duration_seconds",
			Help:      "Duration of SMTP send operations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	pubsubPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lantern",
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "Total number of bus publish attempts.",
		},
		[]string{"topic", "success"},
	)

	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lantern",
			Subsystem: "stream",
			Name:      "connected_clients",
			Help:      "Current number of connected websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		notificationsCreated,
		emailDeliveries,
		emailSendDuration,
		pubsubPublished,
		websocketClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncInFlight marks a request as started.
func IncInFlight() { httpInFlight.Inc() }

// DecInFlight marks a request as finished.
func DecInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request. path should be a
// route template, not a raw URL, to keep label cardinality bounded.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationCreated records a created notification by type key.
func RecordNotificationCreated(typeKey string) {
	if typeKey == "" {
		typeKey = "unknown"
	}
	notificationsCreated.WithLabelValues(typeKey).Inc()
}

// RecordEmailDelivery records an email delivery attempt and its outcome.
func RecordEmailDelivery(status string, duration time.Duration) {
	emailDeliveries.WithLabelValues(status).Inc()
	if duration > 0 {
		emailSendDuration.Observe(duration.Seconds())
	}
}

// RecordPubsubPublish records a bus publish attempt.
func RecordPubsubPublish(topic string, success bool) {
	result := "false"
	if success {
		result = "true"
	}
	pubsubPublished.WithLabelValues(topic, result).Inc()
}

// IncWebsocketClients marks a websocket client as connected.
func IncWebsocketClients() { websocketClients.Inc() }

// DecWebsocketClients marks a websocket client as disconnected.
func DecWebsocketClients() { websocketClients.Dec() }
