package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/metrics"
	"github.com/user/listing-crawler/pkg/retry"
)

// ErrGatewayClosed is returned by AcquirePage after Close.
var ErrGatewayClosed = errors.New("session gateway is closed")

// Session is one page leased from the shared browser.
type Session struct {
	ID   string
	Page repository.PageHandle
}

// SessionGateway owns the single shared browser. It is the only component
// that launches or closes it.
type SessionGateway struct {
	launcher repository.BrowserLauncher
	policy   retry.Policy
	navOpts  repository.NavigateOptions
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu      sync.Mutex
	browser repository.Browser
	closed  bool
}

// NewSessionGateway creates a gateway. navigationsPerSecond <= 0 disables pacing.
func NewSessionGateway(launcher repository.BrowserLauncher, policy retry.Policy, navOpts repository.NavigateOptions, navigationsPerSecond float64, logger *zap.Logger) *SessionGateway {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if navigationsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(navigationsPerSecond), 1)
	}
	return &SessionGateway{
		launcher: launcher,
		policy:   policy,
		navOpts:  navOpts,
		limiter:  limiter,
		logger:   logger,
	}
}

// AcquirePage opens a new page, launching the browser on first use. A page
// that cannot be opened tears the browser down so the next call relaunches it.
func (g *SessionGateway) AcquirePage(ctx context.Context) (*Session, error) {
	browser, err := g.sharedBrowser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := browser.NewPage(ctx)
	if err != nil {
		g.logger.Warn("failed to open page, resetting browser", zap.Error(err))
		g.discard(browser)
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Session{ID: uuid.NewString(), Page: page}, nil
}

// Navigate loads url with bounded retries and returns the cookies set. Each
// retry is a full navigation.
func (g *SessionGateway) Navigate(ctx context.Context, s *Session, url string) ([]entity.Cookie, error) {
	log := g.logger.With(zap.String("session", s.ID), zap.String("url", url))
	cookies, err := retry.Do(ctx, g.policy, func(ctx context.Context) ([]entity.Cookie, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		if err := s.Page.Navigate(ctx, url, g.navOpts); err != nil {
			return nil, err
		}
		return s.Page.Cookies(ctx)
	}, retry.OnFailure(func(_ context.Context, attempt int, err error) {
		metrics.RetryAttemptsTotal.WithLabelValues("navigation").Inc()
		log.Warn("navigation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", repository.ErrNavigationFailed, url, err)
	}
	return cookies, nil
}

// Release closes the session's page. It is safe to call with nil.
func (g *SessionGateway) Release(s *Session) {
	if s == nil || s.Page == nil {
		return
	}
	if err := s.Page.Close(); err != nil {
		g.logger.Debug("failed to close page", zap.String("session", s.ID), zap.Error(err))
	}
}

// WithSession acquires a page, runs fn and always releases the page.
func (g *SessionGateway) WithSession(ctx context.Context, fn func(*Session) error) error {
	s, err := g.AcquirePage(ctx)
	if err != nil {
		return err
	}
	defer g.Release(s)
	return fn(s)
}

// Reset tears the browser down; the next AcquirePage launches a new one.
func (g *SessionGateway) Reset() {
	g.mu.Lock()
	browser := g.browser
	g.browser = nil
	g.mu.Unlock()
	g.closeBrowser(browser)
}

// Close tears the browser down for good.
func (g *SessionGateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.Reset()
}

func (g *SessionGateway) sharedBrowser(ctx context.Context) (repository.Browser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGatewayClosed
	}
	if g.browser != nil {
		return g.browser, nil
	}

	g.logger.Info("launching shared browser")
	browser, err := g.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	g.browser = browser
	return browser, nil
}

// discard resets the browser only if it is still the current one.
func (g *SessionGateway) discard(browser repository.Browser) {
	g.mu.Lock()
	if g.browser != browser {
		g.mu.Unlock()
		return
	}
	g.browser = nil
	g.mu.Unlock()
	g.closeBrowser(browser)
}

func (g *SessionGateway) closeBrowser(browser repository.Browser) {
	if browser == nil {
		return
	}
	if err := browser.Close(); err != nil {
		g.logger.Warn("failed to close browser", zap.Error(err))
	}
}
