package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlements"

var (
	// VerifyTotal counts verify requests by outcome (valid, invalid, revoked, error).
	VerifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verify_total",
		Help:      "Verify requests by outcome.",
	}, []string{"outcome", "source"})

	// RevalidateTotal counts revalidation requests by plan and outcome.
	RevalidateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revalidate_total",
		Help:      "Revalidate requests by plan and outcome.",
	}, []string{"plan", "outcome"})

	// GiftCodeTotal counts gift code validations by outcome.
	GiftCodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gift_code_total",
		Help:      "Gift code validations by outcome.",
	}, []string{"outcome"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// CacheOperations counts entitlement cache calls by operation and result.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Entitlement cache operations by operation and result.",
	}, []string{"op", "result"})

	// ProviderLookups counts billing provider resolutions by result.
	ProviderLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "lookups_total",
		Help:      "Billing provider lookups by result (found, not_found, unavailable).",
	}, []string{"result"})

	// ProviderDuration tracks billing provider lookup latency.
	ProviderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "lookup_duration_seconds",
		Help:      "Billing provider lookup duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// RateLimitedTotal counts requests rejected by a limiter.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by rate limiting, by route.",
	}, []string{"route"})
)
