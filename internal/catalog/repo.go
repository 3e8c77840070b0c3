package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

// Repository reads plan and credit package templates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindPlanByName(ctx context.Context, name string) (*models.Plan, error)
	FindDefaultPlan(ctx context.Context) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	ListActivePackages(ctx context.Context) ([]models.CreditPackage, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) FindDefaultPlan(ctx context.Context) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).Where("is_default = ?", true).Order("created_at ASC").First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if err := r.db.WithContext(ctx).Order("price ASC, name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repositoryImpl) FindPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	var pkg models.CreditPackage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pkg).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *repositoryImpl) ListActivePackages(ctx context.Context) ([]models.CreditPackage, error) {
	var pkgs []models.CreditPackage
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("price ASC, name ASC").Find(&pkgs).Error; err != nil {
		return nil, err
	}
	return pkgs, nil
}
