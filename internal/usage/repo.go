package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// Repository persists usage buckets and reads the credit purchases that own
// package buckets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateUsage(ctx context.Context, usage *models.Usage) error
	FindUsage(ctx context.Context, id uuid.UUID) (*models.Usage, error)
	FindServiceUsage(ctx context.Context, usageID uuid.UUID, service enums.Service) (*models.ServiceUsage, error)
	CreateServiceUsage(ctx context.Context, row *models.ServiceUsage) error
	SaveServiceUsage(ctx context.Context, row *models.ServiceUsage) error
	ListActivePurchases(ctx context.Context, shopID uuid.UUID) ([]models.CreditPurchase, error)
	ExpirePurchase(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// CreateUsage inserts the usage row together with its service rows.
func (r *repositoryImpl) CreateUsage(ctx context.Context, usage *models.Usage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repositoryImpl) FindUsage(ctx context.Context, id uuid.UUID) (*models.Usage, error) {
	var usage models.Usage
	err := r.db.WithContext(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB { return db.Order("service ASC") }).
		Where("id = ?", id).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range usage.Services {
		usage.Services[i].Normalize()
	}
	return &usage, nil
}

func (r *repositoryImpl) FindServiceUsage(ctx context.Context, usageID uuid.UUID, service enums.Service) (*models.ServiceUsage, error) {
	var row models.ServiceUsage
	err := r.db.WithContext(ctx).
		Where("usage_id = ? AND service = ?", usageID, service).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	row.Normalize()
	return &row, nil
}

func (r *repositoryImpl) CreateServiceUsage(ctx context.Context, row *models.ServiceUsage) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repositoryImpl) SaveServiceUsage(ctx context.Context, row *models.ServiceUsage) error {
	return r.db.WithContext(ctx).Save(row).Error
}

// ListActivePurchases returns the shop's ACTIVE purchases in spend order.
func (r *repositoryImpl) ListActivePurchases(ctx context.Context, shopID uuid.UUID) ([]models.CreditPurchase, error) {
	var rows []models.CreditPurchase
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND status = ?", shopID, enums.CreditPurchaseStatusActive).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExpirePurchase flips an ACTIVE purchase to EXPIRED. It reports false when
// the purchase had already expired.
func (r *repositoryImpl) ExpirePurchase(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditPurchase{}).
		Where("id = ? AND status = ?", id, enums.CreditPurchaseStatusActive).
		Updates(map[string]any{
			"status":     enums.CreditPurchaseStatusExpired,
			"expired_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
