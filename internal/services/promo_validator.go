package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

// PromoValidatorDeps wires the promotion repository and clock.
type PromoValidatorDeps struct {
	Promotions repositories.PromotionRepository
	Clock      func() time.Time
}

type promoValidator struct {
	promotions repositories.PromotionRepository
	now        func() time.Time
}

// NewPromoValidator constructs a PromoValidator.
func NewPromoValidator(deps PromoValidatorDeps) (PromoValidator, error) {
	if deps.Promotions == nil {
		return nil, errors.New("promo validator: promotion repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promoValidator{
		promotions: deps.Promotions,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// Validate evaluates the code for the user and subtotal. It never records usage.
func (v *promoValidator) Validate(ctx context.Context, cmd ValidatePromoCommand) (PromoQuote, error) {
	if err := validateStorefront(ErrPromoInvalidInput, cmd.Storefront); err != nil {
		return PromoQuote{}, err
	}
	if cmd.Subtotal < 0 {
		return PromoQuote{}, fmt.Errorf("%w: subtotal must not be negative", ErrPromoInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PromoQuote{}, ErrUnauthenticated
	}
	code := domain.NormalizePromoCode(cmd.Code)
	if code == "" {
		return PromoQuote{}, ErrPromoInvalid
	}

	promo, err := v.promotions.FindByCode(ctx, cmd.Storefront, code)
	if err != nil {
		if isRepoNotFound(err) {
			return PromoQuote{}, ErrPromoInvalid
		}
		return PromoQuote{}, fmt.Errorf("promo: lookup %s: %w", code, err)
	}
	if err := checkPromoActive(promo, v.now()); err != nil {
		return PromoQuote{}, err
	}
	counters, err := v.promotions.Counters(ctx, promo.ID, userID)
	if err != nil {
		return PromoQuote{}, fmt.Errorf("promo: counters %s: %w", code, err)
	}
	discount, err := evaluatePromo(promo, counters, cmd.Subtotal, v.now())
	if err != nil {
		return PromoQuote{}, err
	}
	return PromoQuote{Valid: true, Code: promo.Code, Discount: discount, Promo: promo}, nil
}

// checkPromoActive covers the counter-independent rules so callers can skip the counter read.
func checkPromoActive(promo domain.PromoCode, now time.Time) error {
	if !promo.Active {
		return ErrPromoInvalid
	}
	if promo.ExpiresAt != nil && now.After(*promo.ExpiresAt) {
		return ErrPromoExpired
	}
	return nil
}

// evaluatePromo applies the rules in order, short-circuiting on the first failure, and returns the
// discount for subtotal.
func evaluatePromo(promo domain.PromoCode, counters domain.PromoCounters, subtotal int64, now time.Time) (int64, error) {
	if err := checkPromoActive(promo, now); err != nil {
		return 0, err
	}
	if promo.UsageLimit != nil && counters.Total >= *promo.UsageLimit {
		return 0, ErrPromoLimitExceeded
	}
	if promo.PerUserLimit != nil && counters.PerUser >= *promo.PerUserLimit {
		return 0, ErrPromoPerUserLimitExceeded
	}
	return promoDiscount(promo, subtotal), nil
}

func promoDiscount(promo domain.PromoCode, subtotal int64) int64 {
	if subtotal <= 0 || promo.DiscountValue <= 0 {
		return 0
	}
	switch promo.DiscountType {
	case domain.DiscountPercentage:
		pct := promo.DiscountValue
		if pct > 100 {
			pct = 100
		}
		return subtotal * pct / 100
	case domain.DiscountFixed:
		return min(promo.DiscountValue, subtotal)
	default:
		return 0
	}
}
