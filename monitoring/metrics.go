package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genify_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genify_http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AffiliateEvents counts committed affiliate events by kind and outcome.
	AffiliateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genify_affiliate_events_total",
			Help: "Affiliate attribution events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommissionPence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genify_affiliate_commission_pence_total",
		Help: "Commission credited to affiliates, in pence",
	})

	PayoutTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genify_payout_transitions_total",
			Help: "Payout requests moved into each status",
		},
		[]string{"status"},
	)

	HumanizerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genify_humanizer_requests_total",
			Help: "Humanize calls by result",
		},
		[]string{"result"},
	)

	TrialsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genify_trials_expired_total",
		Help: "Trials flipped to expired by the sweep",
	})
)

// Outcome labels for AffiliateEvents.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown_code"
)
