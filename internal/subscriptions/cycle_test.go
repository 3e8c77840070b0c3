package subscriptions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

func TestCheckCycle(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	policy := DefaultPolicy()

	active := models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		StartDate: now.AddDate(0, 0, -20),
		EndDate:   now.Add(36 * time.Hour),
	}
	got := CheckCycle(active, now, policy)
	assert.Equal(t, 2, got.DaysUntilExpiration)
	assert.False(t, got.IsExpired)
	assert.False(t, got.InTrial)

	active.EndDate = now.Add(-time.Second)
	got = CheckCycle(active, now, policy)
	assert.Equal(t, 0, got.DaysUntilExpiration)
	assert.True(t, got.IsExpired)

	trialEnd := now.AddDate(0, 0, 4)
	trial := models.Subscription{
		Status:    enums.SubscriptionStatusTrial,
		StartDate: now.AddDate(0, 0, -10),
		EndDate:   trialEnd,
		Metadata:  types.SubscriptionMetadata{HasTrial: true, TrialDays: 14, TrialEndDate: &trialEnd},
	}
	got = CheckCycle(trial, now, policy)
	assert.True(t, got.InTrial)
	assert.Equal(t, 4, got.DaysUntilTrialEnds)
	assert.True(t, got.TrialNotice)
	assert.False(t, got.NeedsConversion)

	got = CheckCycle(trial, now.AddDate(0, 0, 1), policy)
	assert.Equal(t, 3, got.DaysUntilTrialEnds)
	assert.False(t, got.TrialNotice)

	got = CheckCycle(trial, trialEnd, policy)
	assert.True(t, got.NeedsConversion)
	assert.False(t, got.TrialNotice)

	trial.Metadata.HasTrialEnded = true
	got = CheckCycle(trial, trialEnd, policy)
	assert.False(t, got.InTrial)
	assert.False(t, got.NeedsConversion)
}

func TestRefundFor(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)
	amount := decimalFromString(t, "20")

	assert.Equal(t, "10", refundFor(amount, start, end, start.AddDate(0, 0, 15)).String())
	assert.Equal(t, "0", refundFor(amount, start, end, end.Add(time.Hour)).String())
	assert.Equal(t, "20", refundFor(amount, start, end, start.Add(-time.Hour)).String())
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(configWith("", "7,1", 0))
	assert.NoError(t, err)
	assert.Equal(t, "FREE", p.FreePlanName)
	assert.Equal(t, []int{7, 1}, p.TrialNotifyDays)
	assert.Equal(t, 30*time.Minute, p.StatusDebounce)
	assert.Equal(t, 7, p.maxTrialNotifyDays())
	assert.True(t, p.isFree("free"))

	_, err = PolicyFromConfig(configWith("FREE", "soon", time.Minute))
	assert.Error(t, err)
}

func decimalFromString(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal: %v", err)
	}
	return d
}

func configWith(free, days string, debounce time.Duration) config.BillingConfig {
	return config.BillingConfig{FreePlanName: free, TrialNotifyDays: days, StatusDebounce: debounce}
}
