package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/pagination"
)

// Repository persists credit purchases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error)
	Create(ctx context.Context, purchase *models.CreditPurchase) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CreditPurchase, error)
	List(ctx context.Context, params listPurchasesParams) ([]models.CreditPurchase, *pagination.Cursor, error)
}

type listPurchasesParams struct {
	ShopID uuid.UUID
	Status enums.CreditPurchaseStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a credit purchase repository bound to the database.
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
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &shop, nil
}

func (r *repositoryImpl) Create(ctx context.Context, purchase *models.CreditPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.CreditPurchase, error) {
	var purchase models.CreditPurchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&purchase).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listPurchasesParams) ([]models.CreditPurchase, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.CreditPurchase{}).Where("shop_id = ?", params.ShopID)
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	query = pagination.Apply(query, params.Cursor, params.Limit)

	var purchases []models.CreditPurchase
	if err := query.Find(&purchases).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(purchases, params.Limit, func(p models.CreditPurchase) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return page, next, nil
}
