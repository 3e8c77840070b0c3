package usage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// Owner identifies what a usage bucket belongs to. Exactly one of the ids is
// set.
type Owner struct {
	ShopID           uuid.UUID
	SubscriptionID   *uuid.UUID
	CreditPurchaseID *uuid.UUID
}

// Buckets provisions and re-grants usage rows from a feature set.
type Buckets struct {
	repo   Repository
	policy Policy
}

// NewBuckets builds the bucket provisioner.
func NewBuckets(repo Repository, policy Policy) *Buckets {
	return &Buckets{repo: repo, policy: policy.normalized()}
}

// WithTx binds the provisioner to a transaction.
func (b *Buckets) WithTx(tx *gorm.DB) *Buckets {
	return &Buckets{repo: b.repo.WithTx(tx), policy: b.policy}
}

// Provision creates a usage row with one service row per metered service.
func (b *Buckets) Provision(ctx context.Context, owner Owner, features types.FeatureSet) (*models.Usage, error) {
	if owner.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage owner shop required")
	}
	if (owner.SubscriptionID == nil) == (owner.CreditPurchaseID == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage must belong to one subscription or credit purchase")
	}

	usage := &models.Usage{
		ID:               uuid.New(),
		ShopID:           owner.ShopID,
		SubscriptionID:   owner.SubscriptionID,
		CreditPurchaseID: owner.CreditPurchaseID,
	}
	for _, service := range enums.Services {
		usage.Services = append(usage.Services, models.NewServiceUsage(usage.ID, service, b.feature(features, service)))
	}
	if err := b.repo.CreateUsage(ctx, usage); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create usage")
	}
	return usage, nil
}

// Regrant resets every service row of a usage to a fresh allowance, creating
// rows that are missing.
func (b *Buckets) Regrant(ctx context.Context, usageID uuid.UUID, features types.FeatureSet) error {
	for _, service := range enums.Services {
		feature := b.feature(features, service)
		row, err := b.repo.FindServiceUsage(ctx, usageID, service)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load service usage")
		}
		if row == nil {
			fresh := models.NewServiceUsage(usageID, service, feature)
			if err := b.repo.CreateServiceUsage(ctx, &fresh); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create service usage")
			}
			continue
		}
		row.Reset(feature)
		if err := b.repo.SaveServiceUsage(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset service usage")
		}
	}
	return nil
}

// Complete creates the service rows a usage is missing, leaving existing
// rows untouched. It reports how many rows it created.
func (b *Buckets) Complete(ctx context.Context, usageID uuid.UUID, features types.FeatureSet) (int, error) {
	usage, err := b.repo.FindUsage(ctx, usageID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage")
	}
	if usage == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "usage not found")
	}
	present := make(map[enums.Service]bool, len(usage.Services))
	for _, row := range usage.Services {
		present[row.Service] = true
	}
	created := 0
	for _, service := range enums.Services {
		if present[service] {
			continue
		}
		fresh := models.NewServiceUsage(usageID, service, b.feature(features, service))
		if err := b.repo.CreateServiceUsage(ctx, &fresh); err != nil {
			return created, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create service usage")
		}
		created++
	}
	return created, nil
}

func (b *Buckets) feature(features types.FeatureSet, service enums.Service) types.ServiceFeature {
	return features.For(service).Normalize(b.policy.DefaultConversionRate)
}
