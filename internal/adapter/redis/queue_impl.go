package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
)

// admitScript pushes every ARGV onto KEYS[1] unless the pause flag KEYS[2]
// is set, in which case it returns -1 and pushes nothing.
var admitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end
return redis.call('LPUSH', KEYS[1], unpack(ARGV))
`)

// QueueRepoImpl implements QueueRepository with one Redis list per queue.
// Jobs are pushed on the left and popped from the right.
type QueueRepoImpl struct {
	client *redis.Client
	prefix string
}

// NewQueueRepo creates a new instance of QueueRepoImpl.
func NewQueueRepo(client *redis.Client, prefix string) *QueueRepoImpl {
	return &QueueRepoImpl{client: client, prefix: prefix}
}

func (r *QueueRepoImpl) queueKey(queue string) string {
	return r.prefix + "queue:" + queue
}

func (r *QueueRepoImpl) pausedKey() string {
	return r.prefix + "paused"
}

// Enqueue adds a job to the queue.
func (r *QueueRepoImpl) Enqueue(ctx context.Context, queue string, job entity.Job) error {
	return r.EnqueueBulk(ctx, queue, []entity.Job{job})
}

// EnqueueBulk pushes all jobs in one atomic script call.
func (r *QueueRepoImpl) EnqueueBulk(ctx context.Context, queue string, jobs []entity.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	args := make([]any, 0, len(jobs))
	for _, job := range jobs {
		job.Queue = queue
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", job.ID, err)
		}
		args = append(args, payload)
	}

	n, err := admitScript.Run(ctx, r.client, []string{r.queueKey(queue), r.pausedKey()}, args...).Int64()
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	if n < 0 {
		return repository.ErrQueuePaused
	}
	return nil
}

// Dequeue blocks with BRPOP until a job arrives or timeout elapses.
func (r *QueueRepoImpl) Dequeue(ctx context.Context, queue string, timeout time.Duration) (entity.Job, error) {
	res, err := r.client.BRPop(ctx, timeout, r.queueKey(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.Job{}, repository.ErrQueueEmpty
		}
		return entity.Job{}, err
	}
	// BRPOP returns [key, value].
	var job entity.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return entity.Job{}, fmt.Errorf("decode job from %s: %w", queue, err)
	}
	return job, nil
}

// Size returns the current number of jobs in the queue.
func (r *QueueRepoImpl) Size(ctx context.Context, queue string) (int64, error) {
	return r.client.LLen(ctx, r.queueKey(queue)).Result()
}

// Drain deletes the queue's list and reports how many jobs it held.
func (r *QueueRepoImpl) Drain(ctx context.Context, queue string) (int64, error) {
	var llen *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		llen = pipe.LLen(ctx, r.queueKey(queue))
		pipe.Del(ctx, r.queueKey(queue))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return llen.Val(), nil
}

func (r *QueueRepoImpl) Pause(ctx context.Context) error {
	return r.client.Set(ctx, r.pausedKey(), "1", 0).Err()
}

func (r *QueueRepoImpl) Resume(ctx context.Context) error {
	return r.client.Del(ctx, r.pausedKey()).Err()
}

func (r *QueueRepoImpl) IsPaused(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.pausedKey()).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
