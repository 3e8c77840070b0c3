package shops

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

type shopRepository interface {
	Create(ctx context.Context, shop *models.Shop, users []models.User) error
	FindByName(ctx context.Context, name string) (*models.Shop, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, shopID uuid.UUID) ([]models.User, error)
}

// Directory resolves shops and the people who receive their billing email.
type Directory interface {
	Register(ctx context.Context, input RegisterInput) (*models.Shop, error)
	FindShopByName(ctx context.Context, name string) (*models.Shop, error)
	FindShopByID(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindAssociatedUserByEmail(ctx context.Context, shopID uuid.UUID, email string) (*models.User, error)
	Recipient(ctx context.Context, shopID uuid.UUID, preferred string) (string, error)
}

type service struct {
	repo shopRepository
}

// NewService builds the shop directory.
func NewService(repo shopRepository) (Directory, error) {
	if repo == nil {
		return nil, fmt.Errorf("shop repository required")
	}
	return &service{repo: repo}, nil
}

// RegisterInput onboards a shop and its billing contacts.
type RegisterInput struct {
	Name  string
	Email string
	Users []RegisterUser
}

// RegisterUser is a billing contact created alongside the shop.
type RegisterUser struct {
	Email     string
	FirstName string
	LastName  string
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*models.Shop, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop name is required")
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(input.Users))
	for _, u := range input.Users {
		userEmail, err := normalizeEmail(u.Email)
		if err != nil {
			return nil, err
		}
		users = append(users, models.User{
			Email:     userEmail,
			FirstName: strings.TrimSpace(u.FirstName),
			LastName:  strings.TrimSpace(u.LastName),
		})
	}

	shop := &models.Shop{Name: name, Email: email}
	if err := s.repo.Create(ctx, shop, users); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "shop or user already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shop")
	}
	return shop, nil
}

func (s *service) FindShopByName(ctx context.Context, name string) (*models.Shop, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop name is required")
	}
	shop, err := s.repo.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeShopNotFound, "shop not found").WithDetails(map[string]any{"shop": name})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find shop")
	}
	return shop, nil
}

func (s *service) FindShopByID(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop id is required")
	}
	shop, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeShopNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find shop")
	}
	return shop, nil
}

// FindAssociatedUserByEmail only returns users that belong to the shop.
func (s *service) FindAssociatedUserByEmail(ctx context.Context, shopID uuid.UUID, email string) (*models.User, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user")
	}
	if user.ShopID != shopID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return user, nil
}

// Recipient picks the address billing email goes to: the preferred address
// when it belongs to a user of the shop, then the first associated user, then
// the shop contact email.
func (s *service) Recipient(ctx context.Context, shopID uuid.UUID, preferred string) (string, error) {
	if preferred != "" {
		user, err := s.FindAssociatedUserByEmail(ctx, shopID, preferred)
		if err == nil {
			return user.Email, nil
		}
		if !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return "", err
		}
	}

	users, err := s.repo.ListUsers(ctx, shopID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shop users")
	}
	if len(users) > 0 {
		return users[0].Email, nil
	}

	shop, err := s.FindShopByID(ctx, shopID)
	if err != nil {
		return "", err
	}
	return shop.Email, nil
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeMissingParameters, "email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid email").WithDetails(map[string]any{"email": raw})
	}
	return addr.Address, nil
}
