package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/config"
	"github.com/user/listing-crawler/pkg/metrics"
)

// PaginationResolver reads the continuity token from a page's next-page
// control and decides whether the lineage's context must change.
type PaginationResolver struct {
	cfg       config.PaginationConfig
	tokenKey  string
	pageParam string
	logger    *zap.Logger
}

func NewPaginationResolver(cfg config.PaginationConfig, tokenKey, pageParam string, logger *zap.Logger) *PaginationResolver {
	return &PaginationResolver{cfg: cfg, tokenKey: tokenKey, pageParam: pageParam, logger: logger}
}

// Resolve returns the context to carry forward and whether its token
// changed. A missing next link leaves the context untouched. A link whose
// reference cannot be decoded, or lacks the token, is ErrExtractionFailed.
// When the current context has no params yet they are seeded from the link.
func (r *PaginationResolver) Resolve(ctx context.Context, page repository.PageHandle, current entity.PaginationContext) (entity.PaginationContext, bool, error) {
	found, err := r.Extract(ctx, page)
	if err != nil {
		return current, false, err
	}
	if found == nil {
		return current, false, nil
	}

	next := current.Clone()
	if len(next.Params) == 0 && len(found.Params) > 0 {
		next.Params = found.Params
	}
	if found.Token == current.Token {
		return next, false, nil
	}

	r.logger.Debug("continuity token changed",
		zap.String("previous", current.Token), zap.String("token", found.Token))
	metrics.ContinuityTokenChangesTotal.Inc()
	next.Token = found.Token
	return next, true, nil
}

// Extract decodes the next-page reference into a full context. It returns
// nil without error when the page has no next link.
func (r *PaginationResolver) Extract(ctx context.Context, page repository.PageHandle) (*entity.PaginationContext, error) {
	if err := page.WaitForSelector(ctx, r.cfg.NextLinkSelector, r.cfg.ProbeTimeout); err != nil {
		if errors.Is(err, repository.ErrElementNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: probe next link: %w", repository.ErrExtractionFailed, err)
	}

	raw, ok, err := page.Attribute(ctx, r.cfg.NextLinkSelector, r.cfg.NextLinkAttribute)
	if err != nil {
		return nil, fmt.Errorf("%w: read next link: %w", repository.ErrExtractionFailed, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: next link has no %s attribute", repository.ErrExtractionFailed, r.cfg.NextLinkAttribute)
	}

	target, err := decodeReference(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrExtractionFailed, err)
	}
	return r.parseTarget(target)
}

func (r *PaginationResolver) parseTarget(target string) (*entity.PaginationContext, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: parse next page reference: %w", repository.ErrExtractionFailed, err)
	}
	query := u.Query()
	token := query.Get(r.tokenKey)
	if token == "" {
		return nil, fmt.Errorf("%w: next page reference has no %q parameter", repository.ErrExtractionFailed, r.tokenKey)
	}

	params := make(map[string]string, len(query))
	for key := range query {
		if key == r.tokenKey || key == r.pageParam {
			continue
		}
		params[key] = query.Get(key)
	}
	return &entity.PaginationContext{Params: params, Token: token}, nil
}

// decodeReference accepts either a bare base64 string or a JSON object whose
// "url" member is base64.
func decodeReference(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var ref struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return "", fmt.Errorf("decode next page reference: %w", err)
		}
		if ref.URL == "" {
			return "", errors.New("next page reference has no url")
		}
		raw = ref.URL
	}

	encodings := []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding}
	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(raw)
		if err == nil {
			return string(decoded), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("decode next page reference: %w", lastErr)
}
