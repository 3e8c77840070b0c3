package shops

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

// Repository handles shop and associated user persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to shop operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a shop with its initial users.
func (r *Repository) Create(ctx context.Context, shop *models.Shop, users []models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(shop).Error; err != nil {
			return err
		}
		for i := range users {
			users[i].ShopID = shop.ID
			if err := tx.Create(&users[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByName loads a shop by its unique domain name.
func (r *Repository) FindByName(ctx context.Context, name string) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("name = ?", strings.ToLower(strings.TrimSpace(name))).First(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

// FindByID loads a shop by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

// FindUserByEmail loads a user by email.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns the users associated with a shop, oldest first.
func (r *Repository) ListUsers(ctx context.Context, shopID uuid.UUID) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).Order("created_at ASC, email ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
