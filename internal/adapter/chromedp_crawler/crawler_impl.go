// Package chromedp_crawler provides the browser session provider on chromedp.
package chromedp_crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/config"
)

// Launcher starts a local Chrome through chromedp's exec allocator.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewLauncher creates a launcher for the configured browser.
func NewLauncher(cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	return &Launcher{cfg: cfg, logger: logger}
}

// Launch starts the browser process. Its lifetime is independent of ctx;
// only Close ends it.
func (l *Launcher) Launch(ctx context.Context) (repository.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))

	// The first Run on the browser context starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := l.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Browser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		opTimeout:   timeout,
		logger:      l.logger,
	}, nil
}

// Browser is one running Chrome process. Each page is a new tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opTimeout   time.Duration
	logger      *zap.Logger
}

// NewPage opens a new tab.
func (b *Browser) NewPage(ctx context.Context) (repository.PageHandle, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser is gone: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Page{ctx: tabCtx, cancel: cancel, opTimeout: b.opTimeout}, nil
}

// Close shuts the browser down gracefully, then kills the allocator.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && b.ctx.Err() == nil {
		return err
	}
	return nil
}
