package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	JobsInQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_in_queue",
			Help: "Current number of jobs waiting in each queue.",
		},
		[]string{"queue"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of jobs processed by the dispatcher.",
		},
		[]string{"queue", "status"}, // status: succeeded, retried, failed
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120, 300},
		},
		[]string{"queue"},
	)

	PagesCrawledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_pages_total",
			Help: "Total number of search result pages processed.",
		},
		[]string{"outcome"}, // outcome: committed, aborted
	)

	ItemsDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_items_discovered_total",
			Help: "Total number of item identifiers captured from result pages.",
		},
	)

	ItemCaptureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_item_capture_failures_total",
			Help: "Items whose stub or scrape job could not be committed.",
		},
	)

	ItemsScrapedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_items_total",
			Help: "Total number of detail scrapes.",
		},
		[]string{"outcome"}, // outcome: scraped, skipped, failed
	)

	ChallengeOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_outcomes_total",
			Help: "Outcomes of challenge resolution per use case.",
		},
		[]string{"use_case", "outcome"},
	)

	ContinuityTokenChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_continuity_token_changes_total",
			Help: "Number of times a page reported a new continuity token.",
		},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_failed_attempts_total",
			Help: "Failed attempts of retried operations.",
		},
		[]string{"operation"},
	)
)
