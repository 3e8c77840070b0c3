package promotions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/meterly-backend/pkg/db/dbtest"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

func strPtr(s string) *string { return &s }

func TestCompute(t *testing.T) {
	price := decimal.NewFromInt(20)

	pct := Compute(models.Promotion{Kind: enums.PromotionKindPercentage, Value: decimal.NewFromFloat(12.5)}, price)
	assert.True(t, pct.Discount.Equal(decimal.NewFromFloat(2.5)))
	assert.True(t, pct.AdjustedAmount.Equal(decimal.NewFromFloat(17.5)))
	assert.Equal(t, 1, pct.DurationCycles)

	overPct := Compute(models.Promotion{Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(150)}, price)
	assert.True(t, overPct.AdjustedAmount.IsZero())

	fixed := Compute(models.Promotion{Kind: enums.PromotionKindFixedAmount, Value: decimal.NewFromInt(30), DurationCycles: 3}, price)
	assert.True(t, fixed.Discount.Equal(price))
	assert.True(t, fixed.AdjustedAmount.IsZero())
	assert.Equal(t, 3, fixed.DurationCycles)

	days := Compute(models.Promotion{Kind: enums.PromotionKindExtraDays, ExtraDays: 7}, price)
	assert.Equal(t, 7, days.ExtraDays)
	assert.True(t, days.AdjustedAmount.Equal(price))
}

func TestResolve_PrefersMostSpecific(t *testing.T) {
	conn := dbtest.Open(t)
	resolver, err := NewResolver(NewRepository(conn))
	require.NoError(t, err)

	shopID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	global := &models.Promotion{Code: "GLOBAL", Name: "global", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(10), Active: true, CreatedAt: now.Add(-time.Hour)}
	planOnly := &models.Promotion{Code: "PLAN", Name: "plan", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(20), PlanName: strPtr("PRO"), Active: true, CreatedAt: now.Add(-2 * time.Hour)}
	shopOnly := &models.Promotion{Code: "SHOP", Name: "shop", Kind: enums.PromotionKindFixedAmount, Value: decimal.NewFromInt(5), ShopID: &shopID, Active: true, CreatedAt: now.Add(-3 * time.Hour)}
	otherShop := uuid.New()
	foreign := &models.Promotion{Code: "FOREIGN", Name: "foreign", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(90), ShopID: &otherShop, Active: true, CreatedAt: now}
	dbtest.Create(t, conn, global, planOnly, shopOnly, foreign)

	adj, err := resolver.Resolve(context.Background(), shopID, "PRO", decimal.NewFromInt(20), now)
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, "SHOP", adj.Code)
	assert.True(t, adj.AdjustedAmount.Equal(decimal.NewFromInt(15)))

	adj, err = resolver.Resolve(context.Background(), uuid.New(), "PRO", decimal.NewFromInt(20), now)
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, "PLAN", adj.Code)

	adj, err = resolver.Resolve(context.Background(), uuid.New(), "BASIC", decimal.NewFromInt(20), now)
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.Equal(t, "GLOBAL", adj.Code)
}

func TestResolve_SkipsExpiredAndExhausted(t *testing.T) {
	conn := dbtest.Open(t)
	resolver, err := NewResolver(NewRepository(conn))
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	dbtest.Create(t, conn,
		&models.Promotion{Code: "ENDED", Name: "ended", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(10), ValidUntil: &past, Active: true},
		&models.Promotion{Code: "LATER", Name: "later", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(10), ValidFrom: &future, Active: true},
		&models.Promotion{Code: "USED", Name: "used", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(10), MaxUses: 2, UsageCount: 2, Active: true},
		&models.Promotion{Code: "OFF", Name: "off", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(10)},
	)

	adj, err := resolver.Resolve(context.Background(), uuid.New(), "PRO", decimal.NewFromInt(20), now)
	require.NoError(t, err)
	assert.Nil(t, adj)
}

func TestApply_RecordsEventAndEnforcesCap(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	resolver, err := NewResolver(repo)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	promo := &models.Promotion{Code: "ONCE", Name: "once", Kind: enums.PromotionKindFixedAmount, Value: decimal.NewFromInt(5), MaxUses: 1, Active: true}
	dbtest.Create(t, conn, promo)

	adj := Compute(*promo, decimal.NewFromInt(20))
	shopID := uuid.New()
	paymentID := uuid.New()

	require.NoError(t, resolver.Apply(context.Background(), shopID, paymentID, adj, true, now))

	events, err := repo.ListBillingEvents(context.Background(), paymentID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].DiscountAmount.Equal(decimal.NewFromInt(5)))

	err = resolver.Apply(context.Background(), shopID, uuid.New(), adj, true, now)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))

	// carried promotions keep counting past the cap
	require.NoError(t, resolver.Apply(context.Background(), shopID, uuid.New(), adj, false, now))
	stored, err := repo.FindByID(context.Background(), promo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.UsageCount)
}

func TestContinue(t *testing.T) {
	conn := dbtest.Open(t)
	resolver, err := NewResolver(NewRepository(conn))
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	promo := &models.Promotion{Code: "LOYAL", Name: "loyal", Kind: enums.PromotionKindPercentage, Value: decimal.NewFromInt(50), DurationCycles: 3, Active: true}
	dbtest.Create(t, conn, promo)

	adj, err := resolver.Continue(context.Background(), promo.ID, decimal.NewFromInt(20), now)
	require.NoError(t, err)
	require.NotNil(t, adj)
	assert.True(t, adj.AdjustedAmount.Equal(decimal.NewFromInt(10)))

	adj, err = resolver.Continue(context.Background(), uuid.New(), decimal.NewFromInt(20), now)
	require.NoError(t, err)
	assert.Nil(t, adj)
}
