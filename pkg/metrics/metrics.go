package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

var (
	// Registry 服務自己的 collector，不使用 default registry
	Registry = prometheus.NewRegistry()

	applyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "transactions_total",
			Help:      "Total number of ApplyTransaction calls by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	statementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "statements_total",
			Help:      "Total number of GetStatement calls by outcome.",
		},
		[]string{"outcome"},
	)

	storageRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "storage_retries_total",
			Help:      "Total number of retried storage attempts.",
		},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"method", "route", "status"},
	)

	grpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC unary calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"method", "code"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		applyTotal,
		statementTotal,
		storageRetries,
		httpDuration,
		grpcDuration,
	)
}

// Handler 回傳 /metrics 的 handler
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordApply 記錄一次交易結果
func RecordApply(kind, outcome string) {
	applyTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStatement 記錄一次對帳單查詢結果
func RecordStatement(outcome string) {
	statementTotal.WithLabelValues(outcome).Inc()
}

// RecordStorageRetry 記錄一次儲存層重試
func RecordStorageRetry() {
	storageRetries.Inc()
}

// RecordHTTPRequest 記錄 HTTP 請求耗時
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordGRPCRequest 記錄 gRPC 請求耗時
func RecordGRPCRequest(method, code string, elapsed time.Duration) {
	grpcDuration.WithLabelValues(method, code).Observe(elapsed.Seconds())
}
