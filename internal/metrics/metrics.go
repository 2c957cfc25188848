package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditChecks counts credit admissions by result (allowed/denied).
	CreditChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "quota",
		Name:      "credit_checks_total",
		Help:      "Credit checks by result.",
	}, []string{"result"})

	// CreditsConsumed counts credits spent by plan.
	CreditsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "quota",
		Name:      "credits_consumed_total",
		Help:      "Credits consumed after a successful generation, by plan.",
	}, []string{"plan"})

	// ReconcileTotal counts reconcile passes by trigger and outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "billing",
		Name:      "reconcile_total",
		Help:      "Subscription reconcile passes by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailcoach",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// LLMRequests counts completion calls by mode and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "LLM completion calls by mode and outcome.",
	}, []string{"mode", "outcome"})

	// LLMDuration tracks completion latency.
	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailcoach",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "LLM completion latency in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"mode"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailcoach",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})
)
