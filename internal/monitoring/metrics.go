// Package monitoring 提供 Prometheus 监控指标。
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesAllocated  prometheus.Counter
	MailboxesReaped     prometheus.Counter
	MailboxesActive     prometheus.Gauge
	AllocationExhausted prometheus.Counter

	// 摄取指标
	MessagesIngested   prometheus.Counter
	MessagesUnmatched  prometheus.Counter
	MessagesDuplicate  prometheus.Counter
	IngestParseErrors  prometheus.Counter
	SourceReconnects   prometheus.Counter
	SourceFatal        prometheus.Gauge
	IngestProcessTime  prometheus.Histogram

	// 通知指标
	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter
	SessionsConnected    prometheus.Gauge
}

// NewMetrics 创建监控指标，注册到独立的 Registry 上。
//
// 独立 Registry 让测试可以反复创建 Metrics 而不会撞上
// 全局默认注册表的重复注册限制。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fademail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fademail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesAllocated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_mailboxes_allocated_total",
				Help: "Total number of mailboxes allocated",
			},
		),
		MailboxesReaped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_mailboxes_reaped_total",
				Help: "Total number of expired mailboxes deleted by the reaper",
			},
		),
		MailboxesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fademail_mailboxes_active",
				Help: "Number of currently active mailboxes",
			},
		),
		AllocationExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_allocation_exhausted_total",
				Help: "Total number of allocations that ran out of retry attempts",
			},
		),

		MessagesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_messages_ingested_total",
				Help: "Total number of inbound messages persisted",
			},
		),
		MessagesUnmatched: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_messages_unmatched_total",
				Help: "Total number of inbound messages dropped because no live mailbox matched",
			},
		),
		MessagesDuplicate: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_messages_duplicate_total",
				Help: "Total number of inbound messages skipped as duplicates",
			},
		),
		IngestParseErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_ingest_parse_errors_total",
				Help: "Total number of inbound messages that failed to parse",
			},
		),
		SourceReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_source_reconnects_total",
				Help: "Total number of mail source reconnection attempts",
			},
		),
		SourceFatal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fademail_source_fatal",
				Help: "1 when the mail source connection is fatally down, 0 otherwise",
			},
		),
		IngestProcessTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fademail_ingest_process_seconds",
				Help:    "Time spent processing a single inbound message",
				Buckets: prometheus.DefBuckets,
			},
		),

		NotificationsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_notifications_sent_total",
				Help: "Total number of realtime events delivered to sessions",
			},
		),
		NotificationsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fademail_notifications_dropped_total",
				Help: "Total number of realtime events dropped (no channel or send failed)",
			},
		),
		SessionsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fademail_sessions_connected",
				Help: "Number of sessions with a registered realtime channel",
			},
		),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// HTTPHandler 返回 /metrics 端点的处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
