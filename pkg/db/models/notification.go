package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// Notification is both the shop-facing message log and the dedup ledger for
// threshold alerts.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;primaryKey"`
	ShopID    uuid.UUID              `gorm:"column:shop_id;type:uuid;not null;index:idx_notifications_shop_type_created"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null;index:idx_notifications_shop_type_created"`
	Title     string                 `gorm:"column:title;not null"`
	Message   string                 `gorm:"column:message;not null"`
	Metadata  types.JSONMap          `gorm:"column:metadata;type:jsonb"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;not null;index:idx_notifications_shop_type_created"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
