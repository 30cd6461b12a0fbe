package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// MQ 消费结果
	MQConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_consume_total",
			Help: "MQ messages consumed by outcome",
		},
		[]string{"queue", "outcome"}, // outcome: ack, requeue, dlq
	)

	// 外部 API 调用延迟（毫秒）: stripe, llm, unsplash, storage, search
	ExternalCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "external_call_latency_ms",
			Help:    "Third-party API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(25, 2, 11), // 25ms to ~50s
		},
		[]string{"provider", "status"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
	)

	// Stripe webhook 处理计数
	WebhookEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment webhook events by type and outcome",
		},
		[]string{"event_type", "outcome"}, // outcome: processed, duplicate, ignored, invalid, failed
	)

	AIGenerationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_generation_total",
			Help: "AI content generation requests by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: success, quota_exceeded, failed
	)

	OutboxDispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox events dispatched by outcome",
		},
		[]string{"outcome"}, // outcome: sent, retry, failed
	)

	SocialPostsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_posts_published_total",
			Help: "Scheduled social posts processed by the publisher",
		},
		[]string{"status"},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Open server-sent event streams",
		},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func IncrementMQConsume(queue, outcome string) {
	MQConsumeTotal.WithLabelValues(queue, outcome).Inc()
}

// RecordExternalCall 记录外部 API 调用延迟
func RecordExternalCall(provider, status string, duration time.Duration) {
	ExternalCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func IncrementWebhookEvent(eventType, outcome string) {
	WebhookEventCount.WithLabelValues(eventType, outcome).Inc()
}

func IncrementAIGeneration(kind, outcome string) {
	AIGenerationCount.WithLabelValues(kind, outcome).Inc()
}

func IncrementOutboxDispatch(outcome string) {
	OutboxDispatchCount.WithLabelValues(outcome).Inc()
}

func IncrementSocialPost(status string) {
	SocialPostsPublished.WithLabelValues(status).Inc()
}
