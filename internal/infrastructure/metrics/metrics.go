package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry 本服务自己的指标，不混入默认注册表
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyfinance",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "polyfinance",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyfinance",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and result.",
		},
		[]string{"operation", "result"},
	)

	webhookOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyfinance",
			Subsystem: "webhook",
			Name:      "payments_total",
			Help:      "Bank payment notifications by match outcome.",
		},
		[]string{"outcome"},
	)

	outboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyfinance",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox deliveries by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		ledgerOperations,
		webhookOutcomes,
		outboxDelivered,
	)
}

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest path 传路由模板，避免高基数
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLedgerOperation result 为 ok 或错误类别
func RecordLedgerOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ledgerOperations.WithLabelValues(operation, result).Inc()
}

func RecordWebhookOutcome(outcome string) {
	webhookOutcomes.WithLabelValues(outcome).Inc()
}

func RecordOutboxDelivery(success bool) {
	result := "sent"
	if !success {
		result = "failed"
	}
	outboxDelivered.WithLabelValues(result).Inc()
}
