package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// Repository persists subscriptions and their payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindLive(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error)
	FindLatestWithStatus(ctx context.Context, shopID uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error)
	ListByPlan(ctx context.Context, shopID uuid.UUID, planName string) ([]models.Subscription, error)
	ListDueShops(ctx context.Context, now time.Time, trialHorizon time.Duration, limit int) ([]uuid.UUID, error)
	Create(ctx context.Context, sub *models.Subscription) error
	Save(ctx context.Context, sub *models.Subscription) error
	CancelLive(ctx context.Context, shopID uuid.UUID, reason string, now time.Time) (int64, error)
	LatestPayment(ctx context.Context, subscriptionID uuid.UUID) (*models.Payment, error)
	LatestPaymentWithStatus(ctx context.Context, subscriptionID uuid.UUID, status enums.PaymentStatus) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	SavePayment(ctx context.Context, payment *models.Payment) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a subscriptions repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", shopID).First(&shop).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &shop, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	sub.Normalize()
	return &sub, nil
}

// FindLive returns the shop's subscription in ACTIVE, ON_HOLD or TRIAL.
func (r *repositoryImpl) FindLive(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND status IN ?", shopID, enums.LiveSubscriptionStatuses).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	sub.Normalize()
	return &sub, nil
}

func (r *repositoryImpl) FindLatestWithStatus(ctx context.Context, shopID uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND status = ?", shopID, status).
		Order("status_changed_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	sub.Normalize()
	return &sub, nil
}

func (r *repositoryImpl) ListByPlan(ctx context.Context, shopID uuid.UUID, planName string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND plan_name = ?", shopID, planName).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Normalize()
	}
	return subs, nil
}

// ListDueShops returns shops whose live subscription has passed its end date
// or is a trial ending within trialHorizon.
func (r *repositoryImpl) ListDueShops(ctx context.Context, now time.Time, trialHorizon time.Duration, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status IN ?", enums.LiveSubscriptionStatuses).
		Where("end_date < ? OR (status = ? AND end_date < ?)", now, enums.SubscriptionStatusTrial, now.Add(trialHorizon)).
		Order("end_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("shop_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repositoryImpl) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repositoryImpl) Save(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// CancelLive closes every live subscription of the shop at now.
func (r *repositoryImpl) CancelLive(ctx context.Context, shopID uuid.UUID, reason string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("shop_id = ? AND status IN ?", shopID, enums.LiveSubscriptionStatuses).
		Updates(map[string]any{
			"status":            enums.SubscriptionStatusCancelled,
			"end_date":          now,
			"canceled_at":       now,
			"cancel_reason":     reason,
			"status_changed_at": now,
			"updated_at":        now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) LatestPayment(ctx context.Context, subscriptionID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND kind <> ?", subscriptionID, enums.PaymentKindCancel).
		Order("created_at DESC, id DESC").
		First(&payment).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &payment, nil
}

func (r *repositoryImpl) LatestPaymentWithStatus(ctx context.Context, subscriptionID uuid.UUID, status enums.PaymentStatus) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, status).
		Order("created_at DESC, id DESC").
		First(&payment).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &payment, nil
}

func (r *repositoryImpl) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repositoryImpl) SavePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func notFoundAsNil(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
