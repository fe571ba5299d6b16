package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmchat_sessions_created_total",
			Help: "Total sessions created at login",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmchat_messages_sent_total",
			Help: "Total messages persisted",
		},
		[]string{"path"}, // "push" or "http"
	)

	// Push delivery is best-effort; these two make the non-guarantee
	// observable.
	PushesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmchat_pushes_delivered_total",
			Help: "Total messages pushed to a live connection",
		},
	)

	PushesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmchat_pushes_dropped_total",
			Help: "Total pushes dropped (no connection or write failure)",
		},
		[]string{"channel", "reason"}, // channel: "chat" or "notify"
	)

	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmchat_notifications_sent_total",
			Help: "Total notifications pushed",
		},
	)

	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmchat_connections_active",
			Help: "Currently registered realtime connections",
		},
		[]string{"channel"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmchat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crmchat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	CRMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crmchat_crm_latency_seconds",
			Help:    "CRM gateway operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)
