package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/pagination"
)

// Repository exposes persistence helpers for notifications.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	ListSince(ctx context.Context, shopID uuid.UUID, kind enums.NotificationType, since time.Time) ([]models.Notification, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	MarkAllRead(ctx context.Context, shopID uuid.UUID, now time.Time) (int64, error)
	CountUnread(ctx context.Context, shopID uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// deleteBatchSize bounds how many rows one retention DELETE touches.
const deleteBatchSize = 5000

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	ShopID     uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
	Type       enums.NotificationType
}

// markOutcome tells a fresh read apart from a repeat and a missing row.
type markOutcome int

const (
	markMissing markOutcome = iota
	markAlreadyRead
	markUpdated
)

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

// ListSince returns the shop's notifications of one type created at or after
// since, newest first.
func (r *repositoryImpl) ListSince(ctx context.Context, shopID uuid.UUID, kind enums.NotificationType, since time.Time) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND type = ? AND created_at >= ?", shopID, kind, since).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// forShop starts a notifications query confined to one tenant.
func (r *repositoryImpl) forShop(ctx context.Context, shopID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("shop_id = ?", shopID)
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	query := r.forShop(ctx, params.ShopID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Type != "" {
		query = query.Where("type = ?", params.Type)
	}

	var rows []models.Notification
	if err := pagination.Apply(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

// MarkRead stamps read_at once. A second call reports markAlreadyRead and
// leaves the original timestamp.
func (r *repositoryImpl) MarkRead(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	res := r.forShop(ctx, shopID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", now)
	if res.Error != nil {
		return markMissing, res.Error
	}
	if res.RowsAffected > 0 {
		return markUpdated, nil
	}

	var count int64
	if err := r.forShop(ctx, shopID).Where("id = ?", notificationID).Count(&count).Error; err != nil {
		return markMissing, err
	}
	if count == 0 {
		return markMissing, nil
	}
	return markAlreadyRead, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, shopID uuid.UUID, now time.Time) (int64, error) {
	res := r.forShop(ctx, shopID).Where("read_at IS NULL").UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) CountUnread(ctx context.Context, shopID uuid.UUID) (int64, error) {
	var count int64
	err := r.forShop(ctx, shopID).Where("read_at IS NULL").Count(&count).Error
	return count, err
}

// DeleteOlderThan removes rows in batches so retention never holds one long
// lock on the table.
func (r *repositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch := r.db.Model(&models.Notification{}).
			Select("id").
			Where("created_at < ?", cutoff).
			Limit(deleteBatchSize)
		result := r.db.WithContext(ctx).Where("id IN (?)", batch).Delete(&models.Notification{})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < deleteBatchSize {
			return total, nil
		}
	}
}
