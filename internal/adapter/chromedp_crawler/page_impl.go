package chromedp_crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
)

// Page is one tab. Every operation runs under its own timeout and is also
// cancelled when the caller's context ends.
type Page struct {
	ctx       context.Context
	cancel    context.CancelFunc
	opTimeout time.Duration
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string, opts repository.NavigateOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.opTimeout
	}
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if opts.Wait == repository.WaitLoad {
		actions = append(actions, waitForReadyState("complete"))
	}
	if err := p.run(ctx, timeout, actions...); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitForSelector maps a timeout to ErrElementNotFound.
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return repository.ErrElementNotFound
	}
	return err
}

type lookup struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (p *Page) EvaluateText(ctx context.Context, selector string) (string, bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", false, err
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? {found: true, value: el.innerText || el.textContent || ""} : {found: false, value: ""};
	})()`, sel)

	var res lookup
	if err := p.run(ctx, p.opTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", false, err
	}
	attr, err := json.Marshal(name)
	if err != nil {
		return "", false, err
	}
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el || !el.hasAttribute(%s)) return {found: false, value: ""};
		return {found: true, value: el.getAttribute(%s)};
	})()`, sel, attr, attr)

	var res lookup
	if err := p.run(ctx, p.opTimeout, chromedp.Evaluate(script, &res)); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.opTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *Page) Remove(ctx context.Context, selector string) (int, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return 0, err
	}
	script := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll(%s);
		nodes.forEach(n => n.remove());
		return nodes.length;
	})()`, sel)

	var n int
	if err := p.run(ctx, p.opTimeout, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.opTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) Cookies(ctx context.Context) ([]entity.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, p.opTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	cookies := make([]entity.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := entity.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			cookie.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.opTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func waitForReadyState(state string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == state {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}
