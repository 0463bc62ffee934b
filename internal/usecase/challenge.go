package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/config"
	"github.com/user/listing-crawler/pkg/metrics"
	"github.com/user/listing-crawler/pkg/retry"
)

// Use cases select which content signature proves a page is real.
const (
	UseCaseSearch = "search"
	UseCaseDetail = "detail"
)

type challengeState int

const (
	stateStart challengeState = iota
	stateConsentCheck
	stateOverlayCheck
	stateVerificationCheck
	stateReady
	stateFailed
)

// ChallengeResolver clears consent banners, overlays and verification
// interstitials before page content is trusted.
type ChallengeResolver struct {
	cfg         config.ChallengeConfig
	diagnostics repository.Diagnostics
	logger      *zap.Logger
}

func NewChallengeResolver(cfg config.ChallengeConfig, diagnostics repository.Diagnostics, logger *zap.Logger) *ChallengeResolver {
	return &ChallengeResolver{cfg: cfg, diagnostics: diagnostics, logger: logger}
}

// Resolve runs the state machine once for a freshly loaded page. A non-nil
// error always comes with a ChallengeFailed outcome.
func (r *ChallengeResolver) Resolve(ctx context.Context, page repository.PageHandle, useCase string) (entity.ChallengeOutcome, error) {
	signature, ok := r.cfg.ContentSignatures[useCase]
	if !ok || signature == "" {
		return entity.ChallengeOutcome{Kind: entity.ChallengeFailed, Reason: "unknown use case"},
			fmt.Errorf("%w: %q", repository.ErrUnknownUseCase, useCase)
	}

	log := r.logger.With(zap.String("use_case", useCase))
	outcome := entity.ChallengeOutcome{Kind: entity.NoChallengeDetected}
	var failure error

	state := stateStart
	for state != stateReady && state != stateFailed {
		switch state {
		case stateStart:
			state = stateConsentCheck

		case stateConsentCheck:
			if r.acceptConsent(ctx, page, log) {
				outcome.Steps = append(outcome.Steps, entity.ResolvedConsent)
			}
			state = stateOverlayCheck

		case stateOverlayCheck:
			if r.removeOverlays(ctx, page, log) {
				outcome.Steps = append(outcome.Steps, entity.ResolvedOverlay)
			}
			state = stateVerificationCheck

		case stateVerificationCheck:
			if !r.verificationShown(ctx, page, log) {
				state = stateReady
				break
			}
			if err := r.passVerification(ctx, page, useCase, signature, log); err != nil {
				failure = err
				state = stateFailed
				break
			}
			outcome.Steps = append(outcome.Steps, entity.ResolvedVerification)
			state = stateReady
		}
	}

	if state == stateFailed {
		outcome.Kind = entity.ChallengeFailed
		outcome.Reason = failure.Error()
	} else {
		outcome.Kind = mostSignificant(outcome.Steps)
	}
	metrics.ChallengeOutcomesTotal.WithLabelValues(useCase, string(outcome.Kind)).Inc()
	return outcome, failure
}

// acceptConsent clicks the consent control once if it shows up. Click
// failures are ignored.
func (r *ChallengeResolver) acceptConsent(ctx context.Context, page repository.PageHandle, log *zap.Logger) bool {
	if r.cfg.ConsentSelector == "" {
		return false
	}
	if err := page.WaitForSelector(ctx, r.cfg.ConsentSelector, r.cfg.ProbeTimeout); err != nil {
		if !errors.Is(err, repository.ErrElementNotFound) {
			log.Debug("consent probe failed", zap.Error(err))
		}
		return false
	}
	if err := page.Click(ctx, r.cfg.ConsentSelector); err != nil {
		log.Warn("consent click failed, continuing", zap.Error(err))
	}
	return true
}

func (r *ChallengeResolver) removeOverlays(ctx context.Context, page repository.PageHandle, log *zap.Logger) bool {
	if len(r.cfg.OverlaySelectors) == 0 {
		return false
	}
	union := strings.Join(r.cfg.OverlaySelectors, ", ")
	if err := page.WaitForSelector(ctx, union, r.cfg.ProbeTimeout); err != nil {
		return false
	}

	removed := 0
	for _, sel := range r.cfg.OverlaySelectors {
		n, err := page.Remove(ctx, sel)
		if err != nil {
			log.Warn("overlay removal failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		removed += n
	}
	return removed > 0
}

// verificationShown treats a failed probe as "absent".
func (r *ChallengeResolver) verificationShown(ctx context.Context, page repository.PageHandle, log *zap.Logger) bool {
	if r.cfg.VerificationHeadingSelector == "" {
		return false
	}
	text, found, err := page.EvaluateText(ctx, r.cfg.VerificationHeadingSelector)
	if err != nil {
		log.Debug("verification heading probe failed, treating as absent", zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	for _, phrase := range r.cfg.VerificationPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func (r *ChallengeResolver) passVerification(ctx context.Context, page repository.PageHandle, useCase, signature string, log *zap.Logger) error {
	log.Info("verification interstitial detected")
	if err := retry.Sleep(ctx, r.cfg.VerificationDelay); err != nil {
		return err
	}

	policy := retry.Fixed(r.cfg.VerificationAttempts, r.cfg.VerificationDelay)
	err := retry.Run(ctx, policy, func(ctx context.Context) error {
		if r.cfg.VerificationControlSelector != "" {
			if err := page.WaitForSelector(ctx, r.cfg.VerificationControlSelector, r.cfg.ProbeTimeout); err == nil {
				if err := page.Click(ctx, r.cfg.VerificationControlSelector); err != nil {
					log.Debug("verification control click failed", zap.Error(err))
				}
			}
		}
		return page.WaitForSelector(ctx, signature, r.cfg.ProbeTimeout)
	}, retry.OnFailure(func(ctx context.Context, attempt int, err error) {
		metrics.RetryAttemptsTotal.WithLabelValues("verification").Inc()
		log.Warn("content signature still missing", zap.Int("attempt", attempt), zap.Error(err))
		capture(ctx, r.diagnostics, page, fmt.Sprintf("verification-%s-%d", useCase, attempt), log)
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", repository.ErrVerificationFailed, err)
	}
	return nil
}

func mostSignificant(steps []entity.ChallengeKind) entity.ChallengeKind {
	rank := map[entity.ChallengeKind]int{
		entity.ResolvedConsent:      1,
		entity.ResolvedOverlay:      2,
		entity.ResolvedVerification: 3,
	}
	kind := entity.NoChallengeDetected
	for _, s := range steps {
		if rank[s] > rank[kind] {
			kind = s
		}
	}
	return kind
}

// capture records a diagnostic artifact; it never fails the caller.
func capture(ctx context.Context, diagnostics repository.Diagnostics, page repository.PageHandle, label string, log *zap.Logger) {
	if diagnostics == nil || page == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("diagnostics capture panicked", zap.Any("panic", rec))
		}
	}()
	if err := diagnostics.Capture(ctx, page, label); err != nil {
		log.Debug("diagnostics capture failed", zap.String("label", label), zap.Error(err))
	}
}
