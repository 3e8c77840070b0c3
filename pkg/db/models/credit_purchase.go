package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// CreditPurchase is a point-in-time snapshot of a purchased credit package.
// Status moves from ACTIVE to EXPIRED once, when its combined credits run out.
type CreditPurchase struct {
	ID                    uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	ShopID                uuid.UUID                  `gorm:"column:shop_id;type:uuid;not null;index"`
	PackageID             uuid.UUID                  `gorm:"column:package_id;type:uuid;not null"`
	Snapshot              types.PurchaseSnapshot     `gorm:"column:snapshot;type:jsonb;not null"`
	Status                enums.CreditPurchaseStatus `gorm:"column:status;type:text;not null"`
	UsageID               *uuid.UUID                 `gorm:"column:usage_id;type:uuid"`
	ExternalTransactionID *string                    `gorm:"column:external_transaction_id"`
	ExpiredAt             *time.Time                 `gorm:"column:expired_at"`
	CreatedAt             time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CreditPurchase) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
