package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/extraction"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/metrics"
	"github.com/user/listing-crawler/pkg/retry"
	"github.com/user/listing-crawler/pkg/utils"
)

// ScrapeParams groups the collaborators of a ScrapeOrchestrator.
type ScrapeParams struct {
	Gateway           *SessionGateway
	Challenges        *ChallengeResolver
	Items             repository.ItemRepository
	Scraped           repository.ScrapedRepository
	Diagnostics       repository.Diagnostics
	Mapping           extraction.Mapping
	DetailURLTemplate string
	RescrapeAfter     time.Duration
	ExtractionPolicy  retry.Policy
	PersistencePolicy retry.Policy
	Logger            *zap.Logger
}

// ScrapeOrchestrator enriches one item stub from its detail page.
type ScrapeOrchestrator struct {
	p ScrapeParams
}

func NewScrapeOrchestrator(p ScrapeParams) *ScrapeOrchestrator {
	return &ScrapeOrchestrator{p: p}
}

// Handle implements JobHandler for the scrape queue.
func (o *ScrapeOrchestrator) Handle(ctx context.Context, job entity.Job) entity.JobResult {
	if job.Scrape == nil {
		return entity.Failed(errors.New("scrape job without payload"), false)
	}
	return o.ProcessScrapeJob(ctx, *job.Scrape)
}

func (o *ScrapeOrchestrator) ProcessScrapeJob(ctx context.Context, job entity.ScrapeJob) entity.JobResult {
	log := o.p.Logger.With(zap.String("external_id", job.ExternalID))

	if !job.Force && o.p.Scraped != nil {
		recent, err := o.p.Scraped.IsScraped(ctx, job.ExternalID)
		if err != nil {
			log.Warn("failed to check scraped marker", zap.Error(err))
		}
		if recent {
			metrics.ItemsScrapedTotal.WithLabelValues("skipped").Inc()
			log.Debug("item scraped recently, skipping")
			return entity.Succeeded("skipped: scraped recently")
		}
	}

	detailURL := utils.ExpandTemplate(o.p.DetailURLTemplate, job.ExternalID)
	var fields map[string]any
	err := o.p.Gateway.WithSession(ctx, func(s *Session) error {
		if _, err := o.p.Gateway.Navigate(ctx, s, detailURL); err != nil {
			return err
		}
		if _, err := o.p.Challenges.Resolve(ctx, s.Page, UseCaseDetail); err != nil {
			return err
		}

		var err error
		fields, err = retry.Do(ctx, o.p.ExtractionPolicy, func(ctx context.Context) (map[string]any, error) {
			html, err := s.Page.HTML(ctx)
			if err != nil {
				return nil, err
			}
			fields, err := o.p.Mapping.ApplyHTML(html)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("%w: %w", repository.ErrExtractionFailed, err))
			}
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: detail page yielded no fields", repository.ErrExtractionFailed)
			}
			return fields, nil
		}, retry.OnFailure(func(ctx context.Context, attempt int, err error) {
			metrics.RetryAttemptsTotal.WithLabelValues("detail_fields").Inc()
			capture(ctx, o.p.Diagnostics, s.Page, fmt.Sprintf("detail-%s-%d", job.ExternalID, attempt), log)
		}))
		return err
	})
	if err != nil {
		metrics.ItemsScrapedTotal.WithLabelValues("failed").Inc()
		log.Warn("detail scrape failed", zap.String("url", detailURL), zap.Error(err))
		return entity.Failed(err, retryableCrawlError(err))
	}

	err = retry.Run(ctx, o.p.PersistencePolicy, func(ctx context.Context) error {
		return o.p.Items.UpdateItemFields(ctx, job.ItemRef, job.ExternalID, fields)
	})
	if err != nil {
		metrics.ItemsScrapedTotal.WithLabelValues("failed").Inc()
		return entity.Failed(fmt.Errorf("%w: %w", repository.ErrPersistenceFailed, err), true)
	}

	if o.p.Scraped != nil && o.p.RescrapeAfter > 0 {
		if err := o.p.Scraped.MarkScraped(ctx, job.ExternalID, o.p.RescrapeAfter); err != nil {
			log.Warn("failed to mark item scraped", zap.Error(err))
		}
	}
	metrics.ItemsScrapedTotal.WithLabelValues("scraped").Inc()
	log.Info("item scraped", zap.Int("fields", len(fields)))
	return entity.Succeeded(fmt.Sprintf("scraped %d fields", len(fields)))
}

// Abandon only records the loss; the stub stays pending.
func (o *ScrapeOrchestrator) Abandon(_ context.Context, job entity.Job, result entity.JobResult) {
	if job.Scrape == nil {
		return
	}
	o.p.Logger.Error("scrape job abandoned, stub left pending",
		zap.String("external_id", job.Scrape.ExternalID), zap.String("reason", result.Reason()))
}
