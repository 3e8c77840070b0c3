package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// IdempotencyKey records that an external transaction id was already applied
// to a shop for a given operation.
type IdempotencyKey struct {
	ID                    uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	ShopID                uuid.UUID                  `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:idx_idempotency_keys_scope"`
	ExternalTransactionID string                     `gorm:"column:external_transaction_id;not null;uniqueIndex:idx_idempotency_keys_scope"`
	Operation             enums.IdempotencyOperation `gorm:"column:operation;type:text;not null;uniqueIndex:idx_idempotency_keys_scope"`
	SubscriptionID        *uuid.UUID                 `gorm:"column:subscription_id;type:uuid"`
	CreditPurchaseID      *uuid.UUID                 `gorm:"column:credit_purchase_id;type:uuid"`
	CreatedAt             time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (k *IdempotencyKey) BeforeCreate(*gorm.DB) error {
	ensureID(&k.ID)
	return nil
}
