package catalog

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/meterly-backend/pkg/db/dbtest"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

type fakeCache struct {
	data map[string]string
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.sets++
	f.data[key] = value.(string)
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeCache) CacheKey(parts ...string) string {
	return "test:" + strings.Join(parts, ":")
}

func proPlan() *models.Plan {
	return &models.Plan{
		Name:      "PRO",
		Price:     decimal.NewFromInt(20),
		Currency:  "USD",
		TrialDays: 7,
		Features: types.FeatureSet{
			AIAPI: types.ServiceFeature{RequestLimit: 100, CreditLimit: decimal.NewFromInt(10), ConversionRate: decimal.RequireFromString("0.1")},
		},
	}
}

func TestGetPlanByNameUsesCache(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	dbtest.Create(t, conn, proPlan())

	cache := newFakeCache()
	svc, err := NewService(ServiceParams{Repo: NewRepository(conn), Cache: cache})
	require.NoError(t, err)

	plan, err := svc.GetPlanByName(ctx, "PRO")
	require.NoError(t, err)
	assert.Equal(t, 7, plan.TrialDays)
	assert.Equal(t, 1, cache.sets)

	require.NoError(t, conn.Where("name = ?", "PRO").Delete(&models.Plan{}).Error)

	cached, err := svc.GetPlanByName(ctx, "PRO")
	require.NoError(t, err, "cached plan should be served without the row")
	assert.Equal(t, plan.ID, cached.ID)
	assert.True(t, cached.Features.For(enums.ServiceAIAPI).ConversionRate.Equal(decimal.RequireFromString("0.1")))

	require.NoError(t, svc.InvalidatePlan(ctx, "PRO"))
	_, err = svc.GetPlanByName(ctx, "PRO")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidPlan), "got %v", err)
}

func TestGetPlanByNameValidation(t *testing.T) {
	svc, err := NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t))})
	require.NoError(t, err)

	_, err = svc.GetPlanByName(context.Background(), "  ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeMissingParameters))
}

func TestGetDefaultPlanFallsBackToConfiguredName(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	dbtest.Create(t, conn, &models.Plan{Name: "FREE", Price: decimal.Zero, Currency: "USD"})

	svc, err := NewService(ServiceParams{Repo: NewRepository(conn), FreePlanName: "FREE"})
	require.NoError(t, err)
	plan, err := svc.GetDefaultPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "FREE", plan.Name)

	flagged := &models.Plan{Name: "STARTER", Price: decimal.Zero, Currency: "USD", IsDefault: true}
	dbtest.Create(t, conn, flagged)
	plan, err = svc.GetDefaultPlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "STARTER", plan.Name)
}

func TestPackagesAndFeatures(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	active := &models.CreditPackage{
		Name:         "Boost",
		CreditAmount: decimal.NewFromInt(50),
		Price:        decimal.NewFromInt(5),
		Currency:     "USD",
		Active:       true,
		Features: types.FeatureSet{
			CrawlAPI: types.ServiceFeature{RequestLimit: 500, CreditLimit: decimal.NewFromInt(50)},
		},
	}
	retired := &models.CreditPackage{Name: "Old", CreditAmount: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Currency: "USD"}
	dbtest.Create(t, conn, active, retired)

	svc, err := NewService(ServiceParams{Repo: NewRepository(conn)})
	require.NoError(t, err)

	pkgs, err := svc.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "Boost", pkgs[0].Name)

	features, err := svc.GetPackageFeature(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), features.For(enums.ServiceCrawlAPI).RequestLimit)

	fallback, err := svc.GetPackageFeature(ctx, retired.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fallback.AIAPI.RequestLimit)
	assert.True(t, fallback.AIAPI.CreditLimit.Equal(decimal.NewFromInt(1)))
	assert.True(t, fallback.CrawlAPI.CreditLimit.IsZero())

	_, err = svc.GetPackage(ctx, uuid.New())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
