package types

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// SubscriptionMetadata carries trial bookkeeping and lifecycle breadcrumbs.
type SubscriptionMetadata struct {
	HasTrial       bool       `json:"has_trial"`
	TrialDays      int        `json:"trial_days,omitempty"`
	TrialStartDate *time.Time `json:"trial_start_date,omitempty"`
	TrialEndDate   *time.Time `json:"trial_end_date,omitempty"`
	HasTrialEnded  bool       `json:"has_trial_ended"`

	// FrozenFrom is the status held before a freeze; unfreeze restores it.
	FrozenFrom string `json:"frozen_from,omitempty"`

	PromotionID              *uuid.UUID `json:"promotion_id,omitempty"`
	PromotionCyclesRemaining int        `json:"promotion_cycles_remaining,omitempty"`
}

// Normalize fills derived trial fields.
func (m SubscriptionMetadata) Normalize() SubscriptionMetadata {
	if m.PromotionCyclesRemaining < 0 {
		m.PromotionCyclesRemaining = 0
	}
	if !m.HasTrial {
		m.TrialDays = 0
		m.TrialStartDate = nil
		m.TrialEndDate = nil
		return m
	}
	if m.TrialEndDate == nil && m.TrialStartDate != nil && m.TrialDays > 0 {
		end := m.TrialStartDate.AddDate(0, 0, m.TrialDays)
		m.TrialEndDate = &end
	}
	return m
}

// Value marshals the metadata into JSON.
func (m SubscriptionMetadata) Value() (driver.Value, error) {
	return jsonValue(m)
}

// Scan decodes JSONB into the metadata.
func (m *SubscriptionMetadata) Scan(value any) error {
	return scanJSON("subscription metadata", value, m)
}
