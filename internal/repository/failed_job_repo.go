package repository

import (
	"context"

	"github.com/user/listing-crawler/internal/entity"
)

// FailedJobRepository is the ledger of jobs the dispatcher gave up on.
type FailedJobRepository interface {
	// SaveOrUpdate creates or updates a record for a failed job.
	SaveOrUpdate(ctx context.Context, failed *entity.FailedJob) error
	// Delete removes a failed job record, typically after a successful run.
	Delete(ctx context.Context, jobID string) error
}
