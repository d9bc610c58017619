package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UsersRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_users_registered_total",
		Help: "Total number of registered users",
	})

	LoginFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_login_failures_total",
		Help: "Total number of rejected login attempts",
	})

	ListingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_listings_created_total",
		Help: "Total number of listings created",
	})

	ListingsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_listings_sold_total",
		Help: "Total number of listings sold through an approved request",
	})

	ListingsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_listings_removed_total",
		Help: "Total number of listings removed by their seller",
	})

	ListingsCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_listings_cache_total",
		Help: "Active listings cache lookups",
	}, []string{"result"})

	RequestsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_requests_submitted_total",
		Help: "Total number of purchase requests created",
	})

	RequestsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_requests_deduplicated_total",
		Help: "Purchase request submissions collapsed onto an existing pending request",
	})

	RequestsDecidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_requests_decided_total",
		Help: "Total number of request decisions",
	}, []string{"decision"})

	RequestsAutoDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_requests_auto_denied_total",
		Help: "Pending requests denied because their listing sold or was removed",
	})

	ApprovalConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_approval_conflicts_total",
		Help: "Approvals rejected because another approval sold the listing first",
	})

	ListingLockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_listing_lock_wait_seconds",
		Help:    "Time spent acquiring the per-listing decision lock",
		Buckets: prometheus.DefBuckets,
	})

	MessagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_messages_sent_total",
		Help: "Total number of direct messages stored",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
