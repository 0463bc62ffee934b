package entity

import "time"

// FailedJob mirrors the `failed_jobs` PostgreSQL table.
type FailedJob struct {
	ID                   int64
	JobID                string
	Queue                string
	Payload              []byte
	FailureReason        string
	LastAttemptTimestamp time.Time
	RetryCount           int
}
