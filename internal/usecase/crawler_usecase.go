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
	"github.com/user/listing-crawler/pkg/config"
	"github.com/user/listing-crawler/pkg/metrics"
	"github.com/user/listing-crawler/pkg/retry"
	"github.com/user/listing-crawler/pkg/utils"
)

// JobHandler processes one job type for the dispatcher.
type JobHandler interface {
	Handle(ctx context.Context, job entity.Job) entity.JobResult
	// Abandon is called once the dispatcher gives up on a job.
	Abandon(ctx context.Context, job entity.Job, result entity.JobResult)
}

// CrawlParams groups the collaborators of a CrawlOrchestrator.
type CrawlParams struct {
	Gateway     *SessionGateway
	Challenges  *ChallengeResolver
	Pagination  *PaginationResolver
	Items       repository.ItemRepository
	Queue       repository.QueueRepository
	Lineages    repository.LineageRepository
	Diagnostics repository.Diagnostics
	Crawl       config.CrawlConfig
	Retry       config.RetryConfig
	Extraction  config.ExtractionConfig
	Logger      *zap.Logger
}

// CrawlOrchestrator drives one search results page of one combo and fans it
// out into scrape jobs plus the next page's crawl job.
type CrawlOrchestrator struct {
	gateway     *SessionGateway
	challenges  *ChallengeResolver
	pagination  *PaginationResolver
	items       repository.ItemRepository
	queue       repository.QueueRepository
	lineages    repository.LineageRepository
	diagnostics repository.Diagnostics
	crawl       config.CrawlConfig
	listing     extraction.ListingRules
	extraction  config.ExtractionConfig
	extractPol  retry.Policy
	persistPol  retry.Policy
	logger      *zap.Logger
}

func NewCrawlOrchestrator(p CrawlParams) *CrawlOrchestrator {
	return &CrawlOrchestrator{
		gateway:     p.Gateway,
		challenges:  p.Challenges,
		pagination:  p.Pagination,
		items:       p.Items,
		queue:       p.Queue,
		lineages:    p.Lineages,
		diagnostics: p.Diagnostics,
		crawl:       p.Crawl,
		listing: extraction.ListingRules{
			Container:   p.Extraction.ResultsContainer,
			Item:        p.Extraction.ItemSelector,
			IDAttribute: p.Extraction.ItemIDAttribute,
			IDPrefix:    p.Extraction.ItemIDPrefix,
		},
		extraction: p.Extraction,
		extractPol: retry.Fixed(p.Retry.ExtractionAttempts, p.Retry.ExtractionDelay),
		persistPol: retry.Fixed(p.Retry.PersistenceAttempts, p.Retry.PersistenceDelay),
		logger:     p.Logger,
	}
}

// pageResult is what a committed page hands to the fan-out step.
type pageResult struct {
	context    entity.PaginationContext
	maxPages   int
	maxResults int
	captured   int
	failed     int
}

// Handle implements JobHandler for the crawl queue.
func (o *CrawlOrchestrator) Handle(ctx context.Context, job entity.Job) entity.JobResult {
	if job.Crawl == nil {
		return entity.Failed(errors.New("crawl job without payload"), false)
	}
	return o.ProcessCrawlJob(ctx, *job.Crawl)
}

// ProcessCrawlJob crawls page job.PageNumber of the combo. The next page's
// job is enqueued only after this page's items are committed and its
// session released.
func (o *CrawlOrchestrator) ProcessCrawlJob(ctx context.Context, job entity.CrawlJob) entity.JobResult {
	key := job.Combo.Key()
	log := o.logger.With(zap.String("combo", key), zap.Int("page", job.PageNumber))
	o.updateLineage(ctx, key, func(s *entity.LineageStatus) {
		s.State = entity.LineageRunning
		s.CurrentPage = job.PageNumber
		if job.MaxPages > 0 {
			s.MaxPages = job.MaxPages
		}
		s.Reason = ""
	})

	pageURL, err := o.pageURL(job)
	if err != nil {
		return entity.Failed(err, false)
	}

	var res pageResult
	err = o.gateway.WithSession(ctx, func(s *Session) error {
		var err error
		res, err = o.processPage(ctx, s, job, pageURL, log)
		return err
	})
	if err != nil {
		log.Error("crawl page aborted", zap.String("url", pageURL), zap.Error(err))
		return entity.Failed(err, retryableCrawlError(err))
	}
	metrics.PagesCrawledTotal.WithLabelValues("committed").Inc()

	o.updateLineage(ctx, key, func(s *entity.LineageStatus) {
		s.MaxPages = res.maxPages
		s.RecordPage(job.PageNumber, res.captured)
	})

	if job.PageNumber >= res.maxPages {
		log.Info("combo crawl completed", zap.Int("max_pages", res.maxPages))
		o.updateLineage(ctx, key, func(s *entity.LineageStatus) { s.State = entity.LineageCompleted })
		return entity.Succeeded(fmt.Sprintf("page %d/%d committed %d items, lineage complete", job.PageNumber, res.maxPages, res.captured))
	}

	next := entity.CrawlJob{
		Combo:      job.Combo,
		PageNumber: job.PageNumber + 1,
		Context:    res.context.Clone(),
		MaxPages:   res.maxPages,
		MaxResults: res.maxResults,
	}
	err = retry.Run(ctx, o.persistPol, func(ctx context.Context) error {
		return permanentIfPaused(o.queue.Enqueue(ctx, entity.QueueCrawl, entity.NewCrawlEnvelope(next)))
	})
	if err != nil {
		log.Error("failed to enqueue next page", zap.Error(err))
		return entity.Failed(fmt.Errorf("enqueue page %d: %w", next.PageNumber, err), !errors.Is(err, repository.ErrQueuePaused))
	}

	log.Info("crawl page committed",
		zap.Int("items", res.captured), zap.Int("item_failures", res.failed), zap.Int("max_pages", res.maxPages))
	return entity.Succeeded(fmt.Sprintf("page %d/%d committed %d items", job.PageNumber, res.maxPages, res.captured))
}

func (o *CrawlOrchestrator) processPage(ctx context.Context, s *Session, job entity.CrawlJob, pageURL string, log *zap.Logger) (pageResult, error) {
	res := pageResult{context: job.Context, maxPages: job.MaxPages, maxResults: job.MaxResults}

	if _, err := o.gateway.Navigate(ctx, s, pageURL); err != nil {
		return res, err
	}

	type resolved struct {
		context entity.PaginationContext
		changed bool
	}
	r, err := retry.Do(ctx, o.extractPol, func(ctx context.Context) (resolved, error) {
		pc, changed, err := o.pagination.Resolve(ctx, s.Page, job.Context)
		return resolved{context: pc, changed: changed}, err
	}, o.observe("pagination", s.Page, log))
	if err != nil {
		return res, fmt.Errorf("resolve continuity token: %w", err)
	}
	res.context = r.context
	if r.changed {
		log.Info("continuity token updated")
	}

	outcome, err := o.challenges.Resolve(ctx, s.Page, UseCaseSearch)
	if err != nil {
		return res, err
	}
	log.Debug("challenges resolved", zap.String("outcome", string(outcome.Kind)))

	if res.maxPages == 0 {
		if err := o.scout(ctx, s.Page, &res, log); err != nil {
			return res, err
		}
	}

	ids, err := retry.Do(ctx, o.extractPol, func(ctx context.Context) ([]string, error) {
		html, err := s.Page.HTML(ctx)
		if err != nil {
			return nil, err
		}
		ids, err := o.listing.ItemIDs(html)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", repository.ErrExtractionFailed, err)
		}
		return ids, nil
	}, o.observe("item_ids", s.Page, log))
	if err != nil {
		return res, fmt.Errorf("extract item ids: %w", err)
	}

	res.captured, res.failed = o.captureItems(ctx, ids, log)
	return res, nil
}

// scout reads the result and page counters of the first page.
func (o *CrawlOrchestrator) scout(ctx context.Context, page repository.PageHandle, res *pageResult, log *zap.Logger) error {
	read := func(selector string, parse func(string) (int, error)) (int, error) {
		return retry.Do(ctx, o.extractPol, func(ctx context.Context) (int, error) {
			text, found, err := page.EvaluateText(ctx, selector)
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, fmt.Errorf("%w: %s not found", repository.ErrExtractionFailed, selector)
			}
			n, err := parse(text)
			if err != nil {
				return 0, fmt.Errorf("%w: %w", repository.ErrExtractionFailed, err)
			}
			return n, nil
		}, o.observe("scout", page, log))
	}

	maxResults, err := read(o.extraction.MaxResultsSelector, extraction.ParseResultCount)
	if err != nil {
		return fmt.Errorf("read result count: %w", err)
	}
	maxPages, err := read(o.extraction.MaxPagesSelector, extraction.ParsePageCount)
	if err != nil {
		return fmt.Errorf("read page count: %w", err)
	}
	if o.crawl.MaxPagesCap > 0 && maxPages > o.crawl.MaxPagesCap {
		maxPages = o.crawl.MaxPagesCap
	}
	res.maxResults, res.maxPages = maxResults, maxPages
	log.Info("scouted combo", zap.Int("max_results", maxResults), zap.Int("max_pages", maxPages))
	return nil
}

// captureItems persists a stub and enqueues its scrape job as one unit per
// item. A failed item is counted and logged; the rest of the page continues.
func (o *CrawlOrchestrator) captureItems(ctx context.Context, ids []string, log *zap.Logger) (captured, failed int) {
	for _, id := range ids {
		err := retry.Run(ctx, o.persistPol, func(ctx context.Context) error {
			ref, err := o.items.UpsertItemStub(ctx, id)
			if err != nil {
				return err
			}
			return permanentIfPaused(o.queue.Enqueue(ctx, entity.QueueScrape, entity.NewScrapeEnvelope(entity.ScrapeJob{ItemRef: ref, ExternalID: id})))
		})
		if err != nil {
			failed++
			metrics.ItemCaptureFailuresTotal.Inc()
			log.Error("item not captured", zap.String("external_id", id),
				zap.Error(fmt.Errorf("%w: %w", repository.ErrPersistenceFailed, err)))
			continue
		}
		captured++
	}
	metrics.ItemsDiscoveredTotal.Add(float64(captured))
	return captured, failed
}

// Abandon marks the combo's lineage as aborted at this page.
func (o *CrawlOrchestrator) Abandon(ctx context.Context, job entity.Job, result entity.JobResult) {
	if job.Crawl == nil {
		return
	}
	metrics.PagesCrawledTotal.WithLabelValues("aborted").Inc()
	key := job.Crawl.Combo.Key()
	o.logger.Error("combo crawl aborted",
		zap.String("combo", key), zap.Int("page", job.Crawl.PageNumber), zap.String("reason", result.Reason()))
	o.updateLineage(ctx, key, func(s *entity.LineageStatus) {
		s.State = entity.LineageAborted
		s.CurrentPage = job.Crawl.PageNumber
		s.Reason = result.Reason()
	})
}

// pageURL orders params as facets, carried context, token, page number.
func (o *CrawlOrchestrator) pageURL(job entity.CrawlJob) (string, error) {
	var params []utils.Param
	for _, f := range job.Combo.Facets {
		params = append(params, utils.Param{Key: f.Name, Value: f.Value})
	}
	for _, p := range utils.SortedParams(job.Context.Params) {
		if p.Key == o.crawl.TokenKey || p.Key == o.crawl.PageParam {
			continue
		}
		params = append(params, p)
	}
	if job.Context.Token != "" {
		params = append(params, utils.Param{Key: o.crawl.TokenKey, Value: job.Context.Token})
	}
	if job.PageNumber > 1 {
		params = append(params, utils.PageParam(o.crawl.PageParam, job.PageNumber))
	}
	return utils.BuildURL(o.crawl.BaseURL, params)
}

func (o *CrawlOrchestrator) observe(operation string, page repository.PageHandle, log *zap.Logger) retry.Option {
	return retry.OnFailure(func(ctx context.Context, attempt int, err error) {
		metrics.RetryAttemptsTotal.WithLabelValues(operation).Inc()
		log.Warn("attempt failed", zap.String("operation", operation), zap.Int("attempt", attempt), zap.Error(err))
		capture(ctx, o.diagnostics, page, fmt.Sprintf("%s-%d", operation, attempt), log)
	})
}

func (o *CrawlOrchestrator) updateLineage(ctx context.Context, key string, mutate func(*entity.LineageStatus)) {
	if o.lineages == nil {
		return
	}
	status, err := o.lineages.Get(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		o.logger.Warn("failed to load lineage status", zap.String("combo", key), zap.Error(err))
	}
	status.ComboKey = key
	mutate(&status)
	status.UpdatedAt = time.Now().UTC()
	if err := o.lineages.Save(ctx, status); err != nil {
		o.logger.Warn("failed to save lineage status", zap.String("combo", key), zap.Error(err))
	}
}

// retryableCrawlError decides whether the broker may run the page again.
// Verification failures end the lineage; so do configuration errors and stops.
func retryableCrawlError(err error) bool {
	switch {
	case errors.Is(err, repository.ErrVerificationFailed),
		errors.Is(err, repository.ErrUnknownUseCase),
		errors.Is(err, repository.ErrQueuePaused),
		errors.Is(err, ErrGatewayClosed),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func permanentIfPaused(err error) error {
	if errors.Is(err, repository.ErrQueuePaused) {
		return retry.Permanent(err)
	}
	return err
}
