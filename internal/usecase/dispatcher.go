package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/metrics"
)

// DispatcherConfig bounds job execution.
type DispatcherConfig struct {
	MaxAttempts int
	JobTimeout  time.Duration
	PollTimeout time.Duration
}

type pool struct {
	queue       string
	concurrency int
	handler     JobHandler
}

// Dispatcher runs one worker pool per queue and turns job results into
// broker-level retries or failed-job records.
type Dispatcher struct {
	queue  repository.QueueRepository
	failed repository.FailedJobRepository
	cfg    DispatcherConfig
	logger *zap.Logger
	pools  []pool

	mu         sync.Mutex
	running    bool
	stopPoll   context.CancelFunc
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
}

func NewDispatcher(queue repository.QueueRepository, failed repository.FailedJobRepository, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &Dispatcher{queue: queue, failed: failed, cfg: cfg, logger: logger}
}

// Register adds a worker pool for queue. It must be called before Start.
func (d *Dispatcher) Register(queue string, concurrency int, handler JobHandler) {
	d.pools = append(d.pools, pool{queue: queue, concurrency: concurrency, handler: handler})
}

// Start launches the workers. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	d.stopPoll, d.cancelJobs = stopPoll, cancelJobs
	d.running = true

	for _, p := range d.pools {
		for i := 0; i < p.concurrency; i++ {
			d.wg.Add(1)
			go d.worker(pollCtx, jobCtx, p, i)
		}
	}
	d.wg.Add(1)
	go d.reportDepth(pollCtx)
	d.logger.Info("dispatcher started", zap.Int("pools", len(d.pools)))
}

// Stop stops polling and waits for in-flight jobs. When ctx expires first
// the remaining jobs are cancelled and abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	stopPoll, cancelJobs := d.stopPoll, d.cancelJobs
	d.mu.Unlock()

	stopPoll()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelJobs()
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		cancelJobs()
		<-done
		return fmt.Errorf("in-flight jobs cancelled: %w", ctx.Err())
	}
}

// Running reports whether workers are active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) worker(pollCtx, jobCtx context.Context, p pool, id int) {
	defer d.wg.Done()
	log := d.logger.With(zap.String("queue", p.queue), zap.Int("worker", id))
	for {
		if pollCtx.Err() != nil {
			return
		}
		job, err := d.queue.Dequeue(pollCtx, p.queue, d.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, repository.ErrQueueEmpty) {
				continue
			}
			if pollCtx.Err() != nil {
				return
			}
			log.Error("failed to dequeue job", zap.Error(err))
			select {
			case <-time.After(d.cfg.PollTimeout):
			case <-pollCtx.Done():
				return
			}
			continue
		}
		d.process(jobCtx, p, job, log)
	}
}

// process runs one job and applies its result.
func (d *Dispatcher) process(ctx context.Context, p pool, job entity.Job, log *zap.Logger) {
	log = log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	start := time.Now()

	runCtx := ctx
	if d.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}
	result := d.safeHandle(runCtx, p.handler, job)
	metrics.JobDuration.WithLabelValues(p.queue).Observe(time.Since(start).Seconds())

	// Bookkeeping must survive the job's own timeout.
	ctx = context.WithoutCancel(ctx)

	if result.Status == entity.JobSucceeded {
		metrics.JobsProcessedTotal.WithLabelValues(p.queue, "succeeded").Inc()
		log.Debug("job succeeded", zap.String("message", result.Message))
		if job.Attempt > 0 {
			if err := d.failed.Delete(ctx, job.ID); err != nil {
				log.Warn("failed to clear failed-job record", zap.Error(err))
			}
		}
		return
	}

	if result.Retryable && job.Attempt+1 < d.cfg.MaxAttempts {
		retried := job
		retried.Attempt++
		err := d.queue.Enqueue(ctx, p.queue, retried)
		if err == nil {
			metrics.JobsProcessedTotal.WithLabelValues(p.queue, "retried").Inc()
			log.Warn("job failed, re-enqueued", zap.String("reason", result.Reason()))
			return
		}
		log.Error("failed to re-enqueue job", zap.Error(err))
	}

	metrics.JobsProcessedTotal.WithLabelValues(p.queue, "failed").Inc()
	log.Error("job failed permanently", zap.String("reason", result.Reason()))
	payload, err := json.Marshal(job)
	if err != nil {
		log.Error("failed to encode failed job", zap.Error(err))
	}
	record := &entity.FailedJob{
		JobID:                job.ID,
		Queue:                p.queue,
		Payload:              payload,
		FailureReason:        result.Reason(),
		LastAttemptTimestamp: time.Now().UTC(),
		RetryCount:           job.Attempt + 1,
	}
	if err := d.failed.SaveOrUpdate(ctx, record); err != nil {
		log.Error("failed to record failed job", zap.Error(err))
	}
	p.handler.Abandon(ctx, job, result)
}

func (d *Dispatcher) safeHandle(ctx context.Context, h JobHandler, job entity.Job) (result entity.JobResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = entity.Failed(fmt.Errorf("handler panic: %v", rec), true)
		}
	}()
	return h.Handle(ctx, job)
}

func (d *Dispatcher) reportDepth(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		for _, p := range d.pools {
			if n, err := d.queue.Size(ctx, p.queue); err == nil {
				metrics.JobsInQueue.WithLabelValues(p.queue).Set(float64(n))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
