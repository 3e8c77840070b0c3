package promotions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Adjustment is the outcome of applying one promotion to a price.
type Adjustment struct {
	PromotionID    uuid.UUID
	Code           string
	Kind           enums.PromotionKind
	OriginalAmount decimal.Decimal
	AdjustedAmount decimal.Decimal
	Discount       decimal.Decimal
	ExtraDays      int
	DurationCycles int
}

// Resolver picks at most one promotion for a shop and plan and records its
// application against a payment.
type Resolver interface {
	WithTx(tx *gorm.DB) Resolver
	Resolve(ctx context.Context, shopID uuid.UUID, planName string, price decimal.Decimal, now time.Time) (*Adjustment, error)
	Continue(ctx context.Context, promotionID uuid.UUID, price decimal.Decimal, now time.Time) (*Adjustment, error)
	Apply(ctx context.Context, shopID, paymentID uuid.UUID, adj *Adjustment, firstUse bool, now time.Time) error
}

type resolver struct {
	repo Repository
}

// NewResolver builds the promotion resolver.
func NewResolver(repo Repository) (Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("promotions repository required")
	}
	return &resolver{repo: repo}, nil
}

func (r *resolver) WithTx(tx *gorm.DB) Resolver {
	return &resolver{repo: r.repo.WithTx(tx)}
}

// Resolve returns nil when no promotion applies. Shop-specific promotions win
// over plan-specific ones, which win over global ones; ties go to the newest.
func (r *resolver) Resolve(ctx context.Context, shopID uuid.UUID, planName string, price decimal.Decimal, now time.Time) (*Adjustment, error) {
	candidates, err := r.repo.ListCandidates(ctx, shopID, planName, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list promotions")
	}

	var best *models.Promotion
	for i := range candidates {
		promo := &candidates[i]
		if !promo.Kind.IsValid() || exhausted(promo) {
			continue
		}
		if best == nil || specificity(promo) > specificity(best) {
			best = promo
		}
	}
	if best == nil {
		return nil, nil
	}
	return Compute(*best, price), nil
}

// Continue re-applies a promotion carried by a subscription on renewal. It
// returns nil once the promotion is inactive or outside its window.
func (r *resolver) Continue(ctx context.Context, promotionID uuid.UUID, price decimal.Decimal, now time.Time) (*Adjustment, error) {
	promo, err := r.repo.FindByID(ctx, promotionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promotion")
	}
	if promo == nil || !promo.Active || !withinWindow(promo, now) {
		return nil, nil
	}
	return Compute(*promo, price), nil
}

// Apply records the billing event and bumps the usage counter. The first use
// of a promotion by a subscription is subject to max_uses.
func (r *resolver) Apply(ctx context.Context, shopID, paymentID uuid.UUID, adj *Adjustment, firstUse bool, now time.Time) error {
	if adj == nil {
		return nil
	}
	ok, err := r.repo.IncrementUsage(ctx, adj.PromotionID, firstUse)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment promotion usage")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "promotion usage limit reached").WithDetails(map[string]any{"code": adj.Code})
	}
	event := &models.BillingEvent{
		ShopID:         shopID,
		PaymentID:      paymentID,
		PromotionID:    adj.PromotionID,
		DiscountAmount: adj.Discount,
		ExtraDays:      adj.ExtraDays,
		CreatedAt:      now,
	}
	if err := r.repo.CreateBillingEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record billing event")
	}
	return nil
}

// Compute applies a promotion to a price. Discounts never push the price
// below zero and are rounded to cents.
func Compute(promo models.Promotion, price decimal.Decimal) *Adjustment {
	adj := &Adjustment{
		PromotionID:    promo.ID,
		Code:           promo.Code,
		Kind:           promo.Kind,
		OriginalAmount: price,
		AdjustedAmount: price,
		Discount:       decimal.Zero,
		DurationCycles: promo.DurationCycles,
	}
	if adj.DurationCycles <= 0 {
		adj.DurationCycles = 1
	}

	switch promo.Kind {
	case enums.PromotionKindPercentage:
		pct := decimal.Min(decimal.Max(promo.Value, decimal.Zero), hundred)
		adj.Discount = price.Mul(pct).Div(hundred).Round(2)
	case enums.PromotionKindFixedAmount:
		adj.Discount = decimal.Min(decimal.Max(promo.Value, decimal.Zero), price).Round(2)
	case enums.PromotionKindExtraDays:
		if promo.ExtraDays > 0 {
			adj.ExtraDays = promo.ExtraDays
		}
	}
	adj.AdjustedAmount = price.Sub(adj.Discount)
	if adj.AdjustedAmount.IsNegative() {
		adj.AdjustedAmount = decimal.Zero
	}
	return adj
}

func exhausted(promo *models.Promotion) bool {
	return promo.MaxUses > 0 && promo.UsageCount >= promo.MaxUses
}

func withinWindow(promo *models.Promotion, now time.Time) bool {
	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return false
	}
	if promo.ValidUntil != nil && !now.Before(*promo.ValidUntil) {
		return false
	}
	return true
}

func specificity(promo *models.Promotion) int {
	score := 0
	if promo.ShopID != nil {
		score += 2
	}
	if promo.PlanName != nil {
		score++
	}
	return score
}
