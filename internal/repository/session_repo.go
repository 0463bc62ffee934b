package repository

import (
	"context"
	"time"

	"github.com/user/listing-crawler/internal/entity"
)

// WaitStrategy selects what Navigate waits for before returning.
type WaitStrategy string

const (
	WaitLoad     WaitStrategy = "load"
	WaitDOMReady WaitStrategy = "domcontentloaded"
)

// NavigateOptions bounds a single navigation attempt.
type NavigateOptions struct {
	Wait    WaitStrategy
	Timeout time.Duration
}

// PageHandle is one browser tab. It is never shared between concurrent jobs.
type PageHandle interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	// WaitForSelector returns ErrElementNotFound if the selector does not
	// match before the timeout.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// EvaluateText returns the inner text of the first match; found is false
	// when nothing matches.
	EvaluateText(ctx context.Context, selector string) (text string, found bool, err error)
	// Attribute returns an attribute of the first match.
	Attribute(ctx context.Context, selector, name string) (value string, found bool, err error)
	Click(ctx context.Context, selector string) error
	// Remove deletes every match from the DOM and reports how many were removed.
	Remove(ctx context.Context, selector string) (int, error)
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]entity.Cookie, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Browser is the single shared browser process.
type Browser interface {
	NewPage(ctx context.Context) (PageHandle, error)
	Close() error
}

// BrowserLauncher starts a browser process. Only the session gateway calls it.
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Diagnostics captures best-effort artifacts for a page.
type Diagnostics interface {
	Capture(ctx context.Context, page PageHandle, label string) error
}
