package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_quota_decisions_total",
			Help: "Quota ledger decisions by result and rejection reason.",
		},
		[]string{"result", "reason"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_dispatch_total",
			Help: "LLM provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgate_dispatch_duration_seconds",
			Help:    "LLM provider call duration in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	StreamEditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_stream_edits_total",
			Help: "Placeholder edits issued while streaming, by kind.",
		},
		[]string{"kind"},
	)

	ConversationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_conversations_total",
			Help: "Conversation turns by terminal state.",
		},
		[]string{"state"},
	)

	HistoryPersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmgate_history_persist_failures_total",
			Help: "Conversation history writes that failed after the answer was shown.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaDecisionsTotal,
		DispatchTotal,
		DispatchDuration,
		StreamEditsTotal,
		ConversationsTotal,
		HistoryPersistFailuresTotal,
	)
}
