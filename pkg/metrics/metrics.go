package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 调度 tick 耗时（秒）
	EscalationTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escalation_tick_duration_seconds",
			Help:    "Duration of one escalation scheduler tick in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// 每个 (rule, entity) 对的处理结果
	EscalationPairCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_pair_total",
			Help: "Escalation (rule, entity) pairs by outcome",
		},
		[]string{"trigger_type", "outcome"}, // outcome: executed, failed, skipped
	)

	// Action 分发延迟（毫秒）
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escalation_dispatch_latency_ms",
			Help:    "Action dispatch latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5ms to ~10s
		},
		[]string{"action", "status"},
	)

	// token 报告生命周期事件
	ReportEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_report_events_total",
			Help: "Progress report lifecycle events",
		},
		[]string{"event", "result"}, // event: issue, validate, submit, review, purge
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// outbox 发布结果
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox events published to the broker by result",
		},
		[]string{"routing_key", "result"},
	)
)

// RecordTick 记录一次 tick 的耗时
func RecordTick(duration time.Duration) {
	EscalationTickDuration.Observe(duration.Seconds())
}

// IncrementPair 记录 (rule, entity) 对的处理结果
func IncrementPair(triggerType, outcome string) {
	EscalationPairCount.WithLabelValues(triggerType, outcome).Inc()
}

// RecordDispatchLatency 记录 Action 分发延迟
func RecordDispatchLatency(action, status string, duration time.Duration) {
	DispatchLatency.WithLabelValues(action, status).Observe(float64(duration.Milliseconds()))
}

// IncrementReportEvent 记录报告事件
func IncrementReportEvent(event, result string) {
	ReportEventCount.WithLabelValues(event, result).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询；statement 只取首个关键字，避免标签基数爆炸
func IncrementSlowQuery(statement string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementOutboxPublish 记录 outbox 发布结果
func IncrementOutboxPublish(routingKey, result string) {
	OutboxPublishCount.WithLabelValues(routingKey, result).Inc()
}
