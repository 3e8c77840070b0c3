package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/internal/catalog"
	"github.com/angelmondragon/meterly-backend/internal/idempotency"
	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/internal/usage"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/pagination"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

type txRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier records notifications in a transaction and delivers them later.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, in notifications.Input) (*notifications.Delivery, error)
	DeliverAll(ctx context.Context, deliveries []*notifications.Delivery) error
}

// Service sells prepaid credit packages.
type Service interface {
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// ServiceParams groups dependencies for the credits service.
type ServiceParams struct {
	DB          txRunner
	Repo        Repository
	Catalog     catalog.Service
	Buckets     *usage.Buckets
	Idempotency idempotency.Repository
	Notifier    Notifier
	Logger      *logger.Logger
	Now         func() time.Time
}

// PurchaseInput buys one package for a shop.
type PurchaseInput struct {
	ShopID                uuid.UUID
	PackageID             uuid.UUID
	ExternalTransactionID string
	Recipient             string
}

// PurchaseResult is the purchase and whether it was replayed.
type PurchaseResult struct {
	Purchase *models.CreditPurchase `json:"purchase"`
	Replayed bool                   `json:"replayed"`
}

// ListParams pages through a shop's purchases.
type ListParams struct {
	ShopID uuid.UUID
	Status string
	Limit  int
	Cursor string
}

// ListResult wraps a page of purchases and the cursor for the next one.
type ListResult struct {
	Items  []models.CreditPurchase `json:"items"`
	Cursor string                  `json:"cursor"`
}

type service struct {
	db       txRunner
	repo     Repository
	catalog  catalog.Service
	buckets  *usage.Buckets
	keys     idempotency.Repository
	notifier Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the credits service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Buckets == nil {
		return nil, fmt.Errorf("usage buckets required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency repository required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		catalog:  params.Catalog,
		buckets:  params.Buckets,
		keys:     params.Idempotency,
		notifier: params.Notifier,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Purchase snapshots the package and grants its credits as a new bucket.
// Replaying the same external transaction returns the first purchase. A
// failed confirmation email is returned with the committed purchase.
func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if input.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop id is required")
	}
	if input.PackageID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "package id is required")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"shop_id":    input.ShopID.String(),
			"package_id": input.PackageID.String(),
			"operation":  "credit_purchase",
		})
	}

	var (
		result     *PurchaseResult
		deliveries []*notifications.Delivery
	)
	err := s.db.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		result, deliveries = nil, nil
		now := s.now().UTC()
		repo := s.repo.WithTx(tx)
		keys := s.keys.WithTx(tx)

		scope := idempotency.Scope{ShopID: input.ShopID, ExternalTransactionID: input.ExternalTransactionID, Operation: enums.IdempotencyOperationPurchase}
		key, err := keys.Find(ctx, scope)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency key")
		}
		if key != nil {
			result = &PurchaseResult{Replayed: true}
			if key.CreditPurchaseID != nil {
				if result.Purchase, err = repo.FindByID(ctx, *key.CreditPurchaseID); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load replayed purchase")
				}
			}
			return nil
		}

		shop, err := repo.FindShop(ctx, input.ShopID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
		}
		if shop == nil {
			return pkgerrors.New(pkgerrors.CodeShopNotFound, "shop not found")
		}
		catalogTx := s.catalog.WithTx(tx)
		pkg, err := catalogTx.GetPackage(ctx, input.PackageID)
		if err != nil {
			return err
		}
		if !pkg.Active {
			return pkgerrors.New(pkgerrors.CodeValidation, "credit package is not available")
		}

		features, err := catalogTx.GetPackageFeature(ctx, pkg.ID)
		if err != nil {
			return err
		}
		purchase := &models.CreditPurchase{
			ID:        uuid.New(),
			ShopID:    shop.ID,
			PackageID: pkg.ID,
			Snapshot: types.PurchaseSnapshot{
				PackageName:  pkg.Name,
				CreditAmount: pkg.CreditAmount,
				Price:        pkg.Price,
				Currency:     pkg.Currency,
				Features:     features,
			},
			Status:                enums.CreditPurchaseStatusActive,
			ExternalTransactionID: optionalString(input.ExternalTransactionID),
			CreatedAt:             now,
		}
		granted, err := s.buckets.WithTx(tx).Provision(ctx, usage.Owner{ShopID: shop.ID, CreditPurchaseID: &purchase.ID}, features)
		if err != nil {
			return err
		}
		purchase.UsageID = &granted.ID
		if err := repo.Create(ctx, purchase); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create credit purchase")
		}
		if err := keys.Record(ctx, scope, idempotency.Reference{CreditPurchaseID: &purchase.ID}, now); err != nil {
			return err
		}

		msg := fmt.Sprintf("%s credits from %s are ready to use.", pkg.CreditAmount.String(), pkg.Name)
		delivery, err := s.notifier.Notify(ctx, tx, notifications.Input{
			ShopID:  shop.ID,
			Type:    enums.NotificationTypeCreditPurchase,
			Title:   "Credit package purchased",
			Message: msg,
			Metadata: types.JSONMap{
				"credit_purchase_id": purchase.ID.String(),
				"package_name":       pkg.Name,
			},
			Force:     true,
			At:        now,
			Recipient: input.Recipient,
			Usage:     &email.UsageData{ShopName: shop.Name, PackageName: pkg.Name, Message: msg},
		})
		if err != nil {
			return err
		}
		if delivery != nil {
			deliveries = append(deliveries, delivery)
		}
		result = &PurchaseResult{Purchase: purchase}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(deliveries) == 0 {
		return result, nil
	}
	return result, s.notifier.DeliverAll(ctx, deliveries)
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop id is required")
	}
	query := listPurchasesParams{ShopID: params.ShopID, Limit: params.Limit}
	if params.Status != "" {
		status := enums.CreditPurchaseStatus(strings.ToUpper(params.Status))
		if !status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid purchase status %q", params.Status))
		}
		query.Status = status
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit purchases")
	}
	result := &ListResult{Items: rows}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
