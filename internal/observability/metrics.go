package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events handled, by outcome.",
		},
		[]string{"event", "outcome"},
	)
	wsBroadcastRecipients = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ws_broadcast_recipients",
			Help:    "Number of connections a broadcast was queued to.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"scope"},
	)
	wsDroppedClientsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_clients_total",
			Help: "Total number of connections dropped because their send queue was full.",
		},
	)
	storeWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_write_duration_seconds",
			Help:    "Latency of gateway-initiated store writes.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

// unmatchedRoute labels requests that matched no registered route.
const unmatchedRoute = "unmatched"

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsBroadcastRecipients,
		wsDroppedClientsTotal,
		storeWriteDuration,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// IncWSEvent counts a handled client event; outcome is "ok" or an error code.
func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func ObserveBroadcast(scope string, recipients int) {
	wsBroadcastRecipients.WithLabelValues(scope).Observe(float64(recipients))
}

func IncWSDroppedClient() {
	wsDroppedClientsTotal.Inc()
}

func ObserveStoreWrite(operation string, started time.Time) {
	storeWriteDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
