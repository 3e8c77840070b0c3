package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// Subscription is a shop's plan enrollment for one or more cycles. A shop has
// at most one subscription in a live status; the partial unique index
// idx_subscriptions_one_live enforces it.
type Subscription struct {
	ID                    uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	ShopID                uuid.UUID                  `gorm:"column:shop_id;type:uuid;not null;index"`
	PlanID                uuid.UUID                  `gorm:"column:plan_id;type:uuid;not null"`
	PlanName              string                     `gorm:"column:plan_name;not null"`
	Status                enums.SubscriptionStatus   `gorm:"column:status;type:text;not null"`
	StartDate             time.Time                  `gorm:"column:start_date;not null"`
	EndDate               time.Time                  `gorm:"column:end_date;not null"`
	UsageID               *uuid.UUID                 `gorm:"column:usage_id;type:uuid"`
	ExternalTransactionID *string                    `gorm:"column:external_transaction_id"`
	StatusChangedAt       time.Time                  `gorm:"column:status_changed_at;not null"`
	CanceledAt            *time.Time                 `gorm:"column:canceled_at"`
	CancelReason          *string                    `gorm:"column:cancel_reason"`
	Metadata              types.SubscriptionMetadata `gorm:"column:metadata;type:jsonb;not null"`
	CreatedAt             time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// Normalize coerces loaded values: UTC timestamps and derived trial metadata.
func (s *Subscription) Normalize() {
	s.StartDate = s.StartDate.UTC()
	s.EndDate = s.EndDate.UTC()
	s.StatusChangedAt = s.StatusChangedAt.UTC()
	s.Metadata = s.Metadata.Normalize()
}

// InTrial reports whether the subscription is currently a trial.
func (s Subscription) InTrial() bool {
	return s.Status == enums.SubscriptionStatusTrial && s.Metadata.HasTrial && !s.Metadata.HasTrialEnded
}

// TrialEnd returns the trial end, falling back to the cycle end.
func (s Subscription) TrialEnd() time.Time {
	if s.Metadata.TrialEndDate != nil {
		return s.Metadata.TrialEndDate.UTC()
	}
	return s.EndDate
}
