package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Queue related metrics
	JobsProcessed     prometheus.Counter
	JobsFailed        prometheus.Counter
	JobsDeadLettered  prometheus.Counter
	JobsReclaimed     prometheus.Counter
	JobRetries        *prometheus.CounterVec
	ProcessingLatency prometheus.Histogram
	QueueDepth        prometheus.Gauge

	// Webhook metrics
	NotificationsReceived *prometheus.CounterVec

	// Provider metrics
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Rate limiter metrics
	RateLimitRefusals *prometheus.CounterVec

	// Subscription metrics
	SubscriptionsRenewed prometheus.Counter
	SubscriptionsFailed  prometheus.Counter
	SubscriptionsExpired prometheus.Gauge

	// Matcher metrics
	MatchesAccepted prometheus.Counter
	MatchesRejected prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_processed_total",
			Help:      "Total number of successfully processed queue jobs",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_failed_total",
			Help:      "Total number of queue job processing failures",
		}),
		JobsDeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_dead_lettered_total",
			Help:      "Total number of jobs moved to the dead letter state",
		}),
		JobsReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jobs_reclaimed_total",
			Help:      "Total number of stale processing jobs returned to pending",
		}),
		JobRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_retry_attempts_total",
			Help:      "Total number of job retry attempts",
		}, []string{"reason"}),
		ProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_processing_duration_seconds",
			Help:      "Time spent processing queue jobs",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current number of pending jobs in the notification queue",
		}),
		NotificationsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_notifications_total",
			Help:      "Total number of webhook notifications by outcome",
		}, []string{"outcome"}),
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_calls_total",
			Help:      "Total number of mail provider API calls",
		}, []string{"operation", "status"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of mail provider API calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		RateLimitRefusals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rate_limit_refusals_total",
			Help:      "Total number of provider calls refused by the rate limiter",
		}, []string{"operation"}),
		SubscriptionsRenewed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_renewed_total",
			Help:      "Total number of successful subscription renewals",
		}),
		SubscriptionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscription_renewal_failures_total",
			Help:      "Total number of failed subscription renewals",
		}),
		SubscriptionsExpired: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_expiring",
			Help:      "Number of active subscriptions inside the renewal threshold",
		}),
		MatchesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "matches_accepted_total",
			Help:      "Total number of inbound messages matched to tracked emails",
		}),
		MatchesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "matches_rejected_total",
			Help:      "Total number of inbound messages below the confidence threshold",
		}),
	}
}
