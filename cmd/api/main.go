package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/adapter/chromedp_crawler"
	"github.com/user/listing-crawler/internal/adapter/diagnostics"
	"github.com/user/listing-crawler/internal/adapter/postgres"
	redis_adapter "github.com/user/listing-crawler/internal/adapter/redis"
	"github.com/user/listing-crawler/internal/delivery/http/handler"
	"github.com/user/listing-crawler/internal/delivery/http/router"
	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/extraction"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/internal/usecase"
	"github.com/user/listing-crawler/pkg/config"
	"github.com/user/listing-crawler/pkg/logger"
	"github.com/user/listing-crawler/pkg/retry"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("could not load config", zap.Error(err))
	}

	// --- Logger ---
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		zap.NewExample().Fatal("could not build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()

	// --- Database Connections ---
	dbpool, err := postgres.NewPool(ctx, cfg.Postgres.ConnString())
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer dbpool.Close()
	if err := postgres.EnsureSchema(ctx, dbpool); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}
	log.Info("PostgreSQL connection pool established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	log.Info("Redis connection established")

	// --- Repositories ---
	queueRepo := redis_adapter.NewQueueRepo(rdb, cfg.Redis.Prefix)
	lineageRepo := redis_adapter.NewLineageRepo(rdb, cfg.Redis.Prefix)
	scrapedRepo := redis_adapter.NewScrapedRepo(rdb, cfg.Redis.Prefix)
	itemRepo := postgres.NewItemStubRepo(dbpool)
	failedJobRepo := postgres.NewFailedJobRepo(dbpool)

	var diag repository.Diagnostics = diagnostics.Noop{}
	if cfg.Diagnostics.Enabled {
		shots, err := diagnostics.NewScreenshotRepo(cfg.Diagnostics.Dir, log.Named("diagnostics"))
		if err != nil {
			log.Fatal("failed to prepare diagnostics", zap.Error(err))
		}
		diag = shots
	}

	mapping := detailMapping(cfg.Extraction.DetailFields)
	if err := mapping.Validate(); err != nil {
		log.Fatal("invalid detail field mapping", zap.Error(err))
	}

	// --- Use Cases ---
	gateway := usecase.NewSessionGateway(
		chromedp_crawler.NewLauncher(cfg.Browser, log.Named("chrome")),
		retry.Exponential(cfg.Retry.NavigationAttempts, cfg.Retry.NavigationDelay, 30*time.Second),
		repository.NavigateOptions{Wait: repository.WaitLoad, Timeout: cfg.Browser.NavigationTimeout},
		cfg.Browser.NavigationsPerSecond,
		log.Named("gateway"),
	)
	challenges := usecase.NewChallengeResolver(cfg.Challenge, diag, log.Named("challenge"))
	pagination := usecase.NewPaginationResolver(cfg.Pagination, cfg.Crawl.TokenKey, cfg.Crawl.PageParam, log.Named("pagination"))

	crawler := usecase.NewCrawlOrchestrator(usecase.CrawlParams{
		Gateway:     gateway,
		Challenges:  challenges,
		Pagination:  pagination,
		Items:       itemRepo,
		Queue:       queueRepo,
		Lineages:    lineageRepo,
		Diagnostics: diag,
		Crawl:       cfg.Crawl,
		Retry:       cfg.Retry,
		Extraction:  cfg.Extraction,
		Logger:      log.Named("crawl"),
	})
	scraper := usecase.NewScrapeOrchestrator(usecase.ScrapeParams{
		Gateway:           gateway,
		Challenges:        challenges,
		Items:             itemRepo,
		Scraped:           scrapedRepo,
		Diagnostics:       diag,
		Mapping:           mapping,
		DetailURLTemplate: cfg.Crawl.DetailURLTemplate,
		RescrapeAfter:     cfg.Crawl.RescrapeAfter,
		ExtractionPolicy:  retry.Fixed(cfg.Retry.ExtractionAttempts, cfg.Retry.ExtractionDelay),
		PersistencePolicy: retry.Fixed(cfg.Retry.PersistenceAttempts, cfg.Retry.PersistenceDelay),
		Logger:            log.Named("scrape"),
	})

	dispatcher := usecase.NewDispatcher(queueRepo, failedJobRepo, usecase.DispatcherConfig{
		MaxAttempts: cfg.Crawl.JobMaxAttempts,
		JobTimeout:  cfg.Crawl.JobTimeout,
		PollTimeout: cfg.Crawl.PollTimeout,
	}, log.Named("dispatcher"))
	dispatcher.Register(entity.QueueCrawl, cfg.Crawl.CrawlConcurrency, crawler)
	dispatcher.Register(entity.QueueScrape, cfg.Crawl.ScrapeConcurrency, scraper)
	// Jobs left on the queues by a previous process are picked up right away.
	dispatcher.Start()

	campaign := usecase.NewCampaign(facets(cfg.Crawl.Facets), queueRepo, lineageRepo, itemRepo, dispatcher, gateway, log.Named("campaign"))
	health := usecase.NewHealthChecker(5*time.Second, map[string]usecase.Pinger{
		"postgres": usecase.PingFunc(dbpool.Ping),
		"redis":    usecase.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(campaign, health, log.Named("http"))
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.New(apiHandler, log.Named("http")),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not start server", zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("port", cfg.Server.Port))

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn("dispatcher stopped with jobs in flight", zap.Error(err))
	}
	gateway.Close()
	log.Info("server exiting")
}

func facets(cfgs []config.FacetConfig) []entity.Facet {
	out := make([]entity.Facet, 0, len(cfgs))
	for _, f := range cfgs {
		out = append(out, entity.Facet{Name: f.Name, Values: f.Values})
	}
	return out
}

func detailMapping(fields []config.FieldRule) extraction.Mapping {
	rules := make([]extraction.Rule, 0, len(fields))
	for _, f := range fields {
		rules = append(rules, extraction.Rule{
			Name:      f.Name,
			Selector:  f.Selector,
			Attr:      f.Attr,
			Transform: f.Transform,
			Multiple:  f.Multiple,
		})
	}
	return extraction.Mapping{Rules: rules}
}
