package promotions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

// Repository persists promotions and the billing events that apply them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListCandidates(ctx context.Context, shopID uuid.UUID, planName string, now time.Time) ([]models.Promotion, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error)
	IncrementUsage(ctx context.Context, id uuid.UUID, enforceMax bool) (bool, error)
	CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error
	ListBillingEvents(ctx context.Context, paymentID uuid.UUID) ([]models.BillingEvent, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a promotions repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// ListCandidates returns active promotions whose window contains now and
// whose shop/plan restrictions admit the pair. Usage caps are checked by the
// resolver.
func (r *repositoryImpl) ListCandidates(ctx context.Context, shopID uuid.UUID, planName string, now time.Time) ([]models.Promotion, error) {
	var promos []models.Promotion
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("shop_id IS NULL OR shop_id = ?", shopID).
		Where("plan_name IS NULL OR plan_name = ?", planName).
		Where("valid_from IS NULL OR valid_from <= ?", now).
		Where("valid_until IS NULL OR valid_until > ?", now).
		Order("created_at DESC").
		Find(&promos).Error
	if err != nil {
		return nil, err
	}
	return promos, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Promotion, error) {
	var promo models.Promotion
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&promo).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &promo, nil
}

// IncrementUsage bumps the usage counter. With enforceMax the update only
// applies while the cap has headroom; the boolean reports whether it applied.
func (r *repositoryImpl) IncrementUsage(ctx context.Context, id uuid.UUID, enforceMax bool) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Promotion{}).Where("id = ?", id)
	if enforceMax {
		query = query.Where("max_uses = 0 OR usage_count < max_uses")
	}
	result := query.UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repositoryImpl) CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repositoryImpl) ListBillingEvents(ctx context.Context, paymentID uuid.UUID) ([]models.BillingEvent, error) {
	var events []models.BillingEvent
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
