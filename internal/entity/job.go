package entity

import (
	"time"

	"github.com/google/uuid"
)

// Queue identifiers.
const (
	QueueCrawl  = "crawl"
	QueueScrape = "scrape"
)

// CrawlJob drives one page of one combo's lineage. MaxPages == 0 means the
// bound is still unknown and must be discovered on this page.
type CrawlJob struct {
	Combo      ParameterCombo    `json:"combo"`
	PageNumber int               `json:"page_number"`
	Context    PaginationContext `json:"context"`
	MaxPages   int               `json:"max_pages"`
	MaxResults int               `json:"max_results"`
}

// ScrapeJob enriches a single item stub with its detail page.
type ScrapeJob struct {
	ItemRef    int64  `json:"item_ref"`
	ExternalID string `json:"external_id"`
	Force      bool   `json:"force,omitempty"`
}

// Job is the envelope stored on a queue.
type Job struct {
	ID         string     `json:"id"`
	Queue      string     `json:"queue"`
	Attempt    int        `json:"attempt"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Crawl      *CrawlJob  `json:"crawl,omitempty"`
	Scrape     *ScrapeJob `json:"scrape,omitempty"`
}

// NewCrawlEnvelope wraps a crawl job for the crawl queue.
func NewCrawlEnvelope(job CrawlJob) Job {
	return Job{ID: uuid.NewString(), Queue: QueueCrawl, EnqueuedAt: time.Now().UTC(), Crawl: &job}
}

// NewScrapeEnvelope wraps a scrape job for the scrape queue.
func NewScrapeEnvelope(job ScrapeJob) Job {
	return Job{ID: uuid.NewString(), Queue: QueueScrape, EnqueuedAt: time.Now().UTC(), Scrape: &job}
}

// JobStatus is the completion signal a handler returns to the dispatcher.
type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobResult tells the dispatcher whether to retry at broker level or mark
// the job failed.
type JobResult struct {
	Status    JobStatus
	Err       error
	Retryable bool
	Message   string
}

// Succeeded builds a successful result.
func Succeeded(msg string) JobResult {
	return JobResult{Status: JobSucceeded, Message: msg}
}

// Failed builds a failed result.
func Failed(err error, retryable bool) JobResult {
	return JobResult{Status: JobFailed, Err: err, Retryable: retryable}
}

// Reason is the human readable failure reason, empty on success.
func (r JobResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
