package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// Payment records one billing event for a subscription. Rows are appended;
// only status and adjusted amount change after insert.
type Payment struct {
	ID                    uuid.UUID           `gorm:"type:uuid;primaryKey"`
	ShopID                uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index"`
	SubscriptionID        uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	Kind                  enums.PaymentKind   `gorm:"column:kind;type:text;not null"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	AdjustedAmount        decimal.Decimal     `gorm:"column:adjusted_amount;type:numeric(12,2);not null"`
	Currency              string              `gorm:"column:currency;not null;default:'USD'"`
	Status                enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	BillingPeriodStart    time.Time           `gorm:"column:billing_period_start;not null"`
	BillingPeriodEnd      time.Time           `gorm:"column:billing_period_end;not null"`
	ExternalTransactionID *string             `gorm:"column:external_transaction_id"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
