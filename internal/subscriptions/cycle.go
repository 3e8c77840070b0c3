package subscriptions

import (
	"math"
	"time"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

const day = 24 * time.Hour

// CycleStatus is the derived position of a subscription in its cycle.
type CycleStatus struct {
	DaysUntilExpiration int  `json:"days_until_expiration"`
	IsExpired           bool `json:"is_expired"`
	InTrial             bool `json:"in_trial"`
	DaysUntilTrialEnds  int  `json:"days_until_trial_ends"`
	NeedsConversion     bool `json:"needs_conversion"`
	TrialNotice         bool `json:"trial_notice"`
}

// CheckCycle computes where sub stands at now. It never mutates sub.
func CheckCycle(sub models.Subscription, now time.Time, policy Policy) CycleStatus {
	status := CycleStatus{
		DaysUntilExpiration: daysUntil(now, sub.EndDate),
		IsExpired:           now.After(sub.EndDate),
		InTrial:             sub.InTrial(),
	}
	if !status.InTrial {
		return status
	}
	trialEnd := sub.TrialEnd()
	status.DaysUntilTrialEnds = daysUntil(now, trialEnd)
	status.NeedsConversion = !now.Before(trialEnd)
	status.TrialNotice = !status.NeedsConversion && policy.notifiesTrialAt(status.DaysUntilTrialEnds)
	return status
}

// daysUntil rounds the remaining time up to whole days and never goes negative.
func daysUntil(now, end time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / float64(day)))
}

// nextCycleEnd is one calendar month after start plus any bonus days.
func nextCycleEnd(start time.Time, extraDays int) time.Time {
	return start.AddDate(0, 1, extraDays)
}
