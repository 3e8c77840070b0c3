package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// Plan is a subscription template. Rows referenced by a live subscription are
// treated as immutable; changes apply to future subscriptions only.
type Plan struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Name      string           `gorm:"column:name;not null;uniqueIndex"`
	Price     decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	Currency  string           `gorm:"column:currency;not null;default:'USD'"`
	TrialDays int              `gorm:"column:trial_days;not null;default:0"`
	IsDefault bool             `gorm:"column:is_default;not null;default:false"`
	Features  types.FeatureSet `gorm:"column:features;type:jsonb;not null"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Plan) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// HasTrial reports whether the plan grants trial days.
func (p Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// CreditPackage is a one-time prepaid credit grant template.
type CreditPackage struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey"`
	Name         string           `gorm:"column:name;not null"`
	CreditAmount decimal.Decimal  `gorm:"column:credit_amount;type:numeric(18,6);not null"`
	Price        decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	Currency     string           `gorm:"column:currency;not null;default:'USD'"`
	Active       bool             `gorm:"column:active;not null"`
	Features     types.FeatureSet `gorm:"column:features;type:jsonb;not null"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *CreditPackage) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
