package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
)

var ErrNoCombos = errors.New("no parameter combos configured")

// RunSummary reports what a run seeded. Skipped lists combos whose lineage
// was still pending or running and therefore was left alone.
type RunSummary struct {
	Combos   int      `json:"combos"`
	Enqueued int      `json:"enqueued"`
	Keys     []string `json:"keys"`
	Skipped  []string `json:"skipped,omitempty"`
}

// StopSummary reports what a stop discarded.
type StopSummary struct {
	Drained map[string]int64 `json:"drained,omitempty"`
}

// Campaign starts and stops crawls and answers status queries.
type Campaign interface {
	Run(ctx context.Context) (RunSummary, error)
	Stop(ctx context.Context, drain bool) (StopSummary, error)
	Lineages(ctx context.Context) ([]entity.LineageStatus, error)
	Lineage(ctx context.Context, comboKey string) (entity.LineageStatus, error)
	Item(ctx context.Context, externalID string) (*entity.ItemStub, error)
}

type campaignUseCase struct {
	mu sync.Mutex

	facets     []entity.Facet
	queue      repository.QueueRepository
	lineages   repository.LineageRepository
	items      repository.ItemRepository
	dispatcher *Dispatcher
	gateway    *SessionGateway
	logger     *zap.Logger
}

// NewCampaign creates the campaign use case.
func NewCampaign(
	facets []entity.Facet,
	queue repository.QueueRepository,
	lineages repository.LineageRepository,
	items repository.ItemRepository,
	dispatcher *Dispatcher,
	gateway *SessionGateway,
	logger *zap.Logger,
) Campaign {
	return &campaignUseCase{
		facets:     facets,
		queue:      queue,
		lineages:   lineages,
		items:      items,
		dispatcher: dispatcher,
		gateway:    gateway,
		logger:     logger,
	}
}

// Run seeds page 1 of every combo that has no page queued or in flight.
// Re-running is safe: active lineages are skipped and stubs upsert on
// external id.
func (uc *campaignUseCase) Run(ctx context.Context) (RunSummary, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	combos := entity.BuildCombos(uc.facets)
	if len(combos) == 0 {
		return RunSummary{}, ErrNoCombos
	}
	if err := uc.queue.Resume(ctx); err != nil {
		return RunSummary{}, fmt.Errorf("resume queues: %w", err)
	}

	active, err := uc.activeLineages(ctx, combos)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{Combos: len(combos), Keys: make([]string, 0, len(combos))}
	var jobs []entity.Job
	for i, combo := range combos {
		if active[i] {
			summary.Skipped = append(summary.Skipped, combo.Key())
			continue
		}
		summary.Keys = append(summary.Keys, combo.Key())
		jobs = append(jobs, entity.NewCrawlEnvelope(entity.CrawlJob{Combo: combo, PageNumber: 1}))
	}

	if len(jobs) > 0 {
		now := time.Now().UTC()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, key := range summary.Keys {
			g.Go(func() error {
				return uc.lineages.Save(gctx, entity.LineageStatus{
					ComboKey:  key,
					State:     entity.LineagePending,
					UpdatedAt: now,
				})
			})
		}
		if err := g.Wait(); err != nil {
			return RunSummary{}, fmt.Errorf("seed lineage status: %w", err)
		}

		if err := uc.queue.EnqueueBulk(ctx, entity.QueueCrawl, jobs); err != nil {
			return RunSummary{}, fmt.Errorf("enqueue first pages: %w", err)
		}
		summary.Enqueued = len(jobs)
	}

	if uc.dispatcher != nil {
		uc.dispatcher.Start()
	}
	uc.logger.Info("crawl run seeded",
		zap.Int("combos", summary.Combos), zap.Int("enqueued", summary.Enqueued), zap.Strings("skipped", summary.Skipped))
	return summary, nil
}

// activeLineages reports, per combo, whether its lineage is pending or running.
func (uc *campaignUseCase) activeLineages(ctx context.Context, combos []entity.ParameterCombo) ([]bool, error) {
	active := make([]bool, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, combo := range combos {
		g.Go(func() error {
			status, err := uc.lineages.Get(gctx, combo.Key())
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", combo.Key(), err)
			}
			active[i] = status.Active()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load lineage status: %w", err)
	}
	return active, nil
}

// Stop pauses admission, optionally drains pending jobs, waits for the
// workers and tears the shared browser down. After a drain no lineage has a
// page left, so every active one is marked aborted.
func (uc *campaignUseCase) Stop(ctx context.Context, drain bool) (StopSummary, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if err := uc.queue.Pause(ctx); err != nil {
		return StopSummary{}, fmt.Errorf("pause queues: %w", err)
	}

	var summary StopSummary
	if drain {
		queues := []string{entity.QueueCrawl, entity.QueueScrape}
		counts := make([]int64, len(queues))
		g, gctx := errgroup.WithContext(ctx)
		for i, q := range queues {
			g.Go(func() error {
				n, err := uc.queue.Drain(gctx, q)
				counts[i] = n
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return StopSummary{}, fmt.Errorf("drain queues: %w", err)
		}
		summary.Drained = make(map[string]int64, len(queues))
		for i, q := range queues {
			summary.Drained[q] = counts[i]
		}
	}

	var stopErr error
	if uc.dispatcher != nil {
		stopErr = uc.dispatcher.Stop(ctx)
	}
	if uc.gateway != nil {
		uc.gateway.Reset()
	}
	if drain {
		uc.abortActive(context.WithoutCancel(ctx))
	}
	uc.logger.Info("crawl stopped", zap.Bool("drain", drain), zap.Error(stopErr))
	return summary, stopErr
}

func (uc *campaignUseCase) abortActive(ctx context.Context) {
	statuses, err := uc.lineages.List(ctx)
	if err != nil {
		uc.logger.Warn("failed to list lineages after drain", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, status := range statuses {
		if !status.Active() {
			continue
		}
		status.State = entity.LineageAborted
		status.Reason = "stopped"
		status.UpdatedAt = now
		if err := uc.lineages.Save(ctx, status); err != nil {
			uc.logger.Warn("failed to mark lineage stopped", zap.String("combo", status.ComboKey), zap.Error(err))
		}
	}
}

func (uc *campaignUseCase) Lineages(ctx context.Context) ([]entity.LineageStatus, error) {
	return uc.lineages.List(ctx)
}

func (uc *campaignUseCase) Lineage(ctx context.Context, comboKey string) (entity.LineageStatus, error) {
	return uc.lineages.Get(ctx, comboKey)
}

func (uc *campaignUseCase) Item(ctx context.Context, externalID string) (*entity.ItemStub, error) {
	return uc.items.FindByExternalID(ctx, externalID)
}
