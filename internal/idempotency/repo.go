package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

// Repository records external transaction ids already applied to a shop. It is
// consulted inside the same transaction as the mutation it protects.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, scope Scope) (*models.IdempotencyKey, error)
	Record(ctx context.Context, scope Scope, ref Reference, now time.Time) error
}

// Scope identifies one application of an external transaction id.
type Scope struct {
	ShopID                uuid.UUID
	ExternalTransactionID string
	Operation             enums.IdempotencyOperation
}

// Enabled reports whether the caller supplied an external id at all.
func (s Scope) Enabled() bool {
	return strings.TrimSpace(s.ExternalTransactionID) != ""
}

// Reference points at the entity produced by the first application.
type Reference struct {
	SubscriptionID   *uuid.UUID
	CreditPurchaseID *uuid.UUID
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an idempotency repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Find returns nil when the scope has not been applied yet.
func (r *repositoryImpl) Find(ctx context.Context, scope Scope) (*models.IdempotencyKey, error) {
	if !scope.Enabled() {
		return nil, nil
	}
	var key models.IdempotencyKey
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND external_transaction_id = ? AND operation = ?",
			scope.ShopID, strings.TrimSpace(scope.ExternalTransactionID), scope.Operation).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// Record stores the scope. A concurrent writer that already recorded the same
// scope surfaces as CodeIdempotency.
func (r *repositoryImpl) Record(ctx context.Context, scope Scope, ref Reference, now time.Time) error {
	if !scope.Enabled() {
		return nil
	}
	key := &models.IdempotencyKey{
		ShopID:                scope.ShopID,
		ExternalTransactionID: strings.TrimSpace(scope.ExternalTransactionID),
		Operation:             scope.Operation,
		SubscriptionID:        ref.SubscriptionID,
		CreditPurchaseID:      ref.CreditPurchaseID,
		CreatedAt:             now,
	}
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "external transaction already applied")
		}
		return err
	}
	return nil
}
