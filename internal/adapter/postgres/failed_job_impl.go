package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/listing-crawler/internal/entity"
)

// FailedJobRepoImpl implements FailedJobRepository on the failed_jobs table.
type FailedJobRepoImpl struct {
	db *pgxpool.Pool
}

// NewFailedJobRepo creates a new instance of FailedJobRepoImpl.
func NewFailedJobRepo(db *pgxpool.Pool) *FailedJobRepoImpl {
	return &FailedJobRepoImpl{db: db}
}

// SaveOrUpdate creates or updates a record for a failed job.
func (r *FailedJobRepoImpl) SaveOrUpdate(ctx context.Context, failed *entity.FailedJob) error {
	query := `
		INSERT INTO failed_jobs (job_id, queue, payload, failure_reason, last_attempt_timestamp, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			failure_reason = EXCLUDED.failure_reason,
			last_attempt_timestamp = EXCLUDED.last_attempt_timestamp,
			retry_count = GREATEST(failed_jobs.retry_count + 1, EXCLUDED.retry_count);
	`
	_, err := r.db.Exec(ctx, query,
		failed.JobID,
		failed.Queue,
		failed.Payload,
		failed.FailureReason,
		failed.LastAttemptTimestamp,
		failed.RetryCount,
	)
	return err
}

// Delete removes a failed job record, typically after a successful retry.
func (r *FailedJobRepoImpl) Delete(ctx context.Context, jobID string) error {
	query := `DELETE FROM failed_jobs WHERE job_id = $1;`
	_, err := r.db.Exec(ctx, query, jobID)
	return err
}
