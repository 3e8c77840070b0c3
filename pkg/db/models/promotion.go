package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// Promotion is a price or duration adjustment. A nil PlanName or ShopID means
// the promotion is not restricted on that axis.
type Promotion struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Code           string              `gorm:"column:code;not null;uniqueIndex"`
	Name           string              `gorm:"column:name;not null"`
	Kind           enums.PromotionKind `gorm:"column:kind;type:text;not null"`
	Value          decimal.Decimal     `gorm:"column:value;type:numeric(12,2);not null"`
	ExtraDays      int                 `gorm:"column:extra_days;not null;default:0"`
	DurationCycles int                 `gorm:"column:duration_cycles;not null;default:1"`
	PlanName       *string             `gorm:"column:plan_name"`
	ShopID         *uuid.UUID          `gorm:"column:shop_id;type:uuid;index"`
	ValidFrom      *time.Time          `gorm:"column:valid_from"`
	ValidUntil     *time.Time          `gorm:"column:valid_until"`
	MaxUses        int                 `gorm:"column:max_uses;not null;default:0"`
	UsageCount     int                 `gorm:"column:usage_count;not null;default:0"`
	Active         bool                `gorm:"column:active;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Promotion) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// BillingEvent joins a promotion to the payment it adjusted.
type BillingEvent struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ShopID         uuid.UUID       `gorm:"column:shop_id;type:uuid;not null;index"`
	PaymentID      uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;index"`
	PromotionID    uuid.UUID       `gorm:"column:promotion_id;type:uuid;not null;index"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	ExtraDays      int             `gorm:"column:extra_days;not null;default:0"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (b *BillingEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
