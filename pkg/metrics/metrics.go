package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// WebhookRequestsTotal counts ingest outcomes (processed, ignored, rejected, failed)
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of address activity webhooks by outcome",
		},
		[]string{"outcome"},
	)

	// IngestPairsTotal counts (activity, direction) pairs by result (counted, duplicate)
	IngestPairsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_pairs_total",
			Help: "Total number of activity/direction pairs evaluated",
		},
		[]string{"direction", "result"},
	)

	// AlertsPublishedTotal counts alert intents delivered to the channel
	AlertsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_published_total",
			Help: "Total number of threshold alerts published",
		},
		[]string{"direction"},
	)

	// AlertsSuppressedTotal counts breaches dropped by the cooldown gate
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_suppressed_total",
			Help: "Total number of threshold breaches suppressed by cooldown",
		},
		[]string{"direction"},
	)

	// AlertsFailedTotal counts alert deliveries that failed
	AlertsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_failed_total",
			Help: "Total number of threshold alerts that could not be delivered",
		},
		[]string{"channel"},
	)

	// WindowSumEth observes rolling totals at evaluation time
	WindowSumEth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "window_sum_eth",
			Help:    "Rolling window totals observed during threshold evaluation",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 50, 100, 1000},
		},
	)

	// StoreOperationDuration tracks backing store latency
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Backing store operation latency in seconds by calling component",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"component", "operation"},
	)

	// RetentionDeletedTotal counts expired items removed by the reaper
	RetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_deleted_items_total",
			Help: "Total number of expired items removed by the retention worker",
		},
	)

	// NotificationsTotal counts notifier deliveries by result
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of queued alerts handled by the notifier",
		},
		[]string{"result"},
	)
)
