package repository

import (
	"context"
	"time"

	"github.com/user/listing-crawler/internal/entity"
)

// QueueRepository is the job broker.
type QueueRepository interface {
	// Enqueue adds a job to the named queue. It returns ErrQueuePaused when
	// admission is stopped.
	Enqueue(ctx context.Context, queue string, job entity.Job) error
	// EnqueueBulk adds all jobs atomically.
	EnqueueBulk(ctx context.Context, queue string, jobs []entity.Job) error
	// Dequeue blocks up to timeout and returns ErrQueueEmpty if nothing arrived.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (entity.Job, error)
	// Size returns the current number of jobs in the queue.
	Size(ctx context.Context, queue string) (int64, error)
	// Drain removes every pending job of the queue.
	Drain(ctx context.Context, queue string) (int64, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
}
