package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

const defaultCacheTTL = 5 * time.Minute

// Cache is the read-through store used for plan lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CacheKey(parts ...string) string
}

// Service is the read-only plan and package catalog.
type Service interface {
	WithTx(tx *gorm.DB) Service
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	GetDefaultPlan(ctx context.Context) (*models.Plan, error)
	ListPlans(ctx context.Context) ([]models.Plan, error)
	GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
	GetPackageFeature(ctx context.Context, id uuid.UUID) (types.FeatureSet, error)
	ListPackages(ctx context.Context) ([]models.CreditPackage, error)
	InvalidatePlan(ctx context.Context, name string) error
}

// ServiceParams wires catalog dependencies. Cache and Logger are optional.
type ServiceParams struct {
	Repo         Repository
	Cache        Cache
	CacheTTL     time.Duration
	FreePlanName string
	Logger       *logger.Logger
}

type service struct {
	repo         Repository
	cache        Cache
	ttl          time.Duration
	freePlanName string
	logg         *logger.Logger
}

// NewService builds the catalog.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &service{
		repo:         params.Repo,
		cache:        params.Cache,
		ttl:          ttl,
		freePlanName: strings.TrimSpace(params.FreePlanName),
		logg:         params.Logger,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

func (s *service) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "plan name is required")
	}

	if plan, ok := s.cachedPlan(ctx, name); ok {
		return plan, nil
	}

	plan, err := s.repo.FindPlanByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidPlan, "plan not found").WithDetails(map[string]any{"plan": name})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	s.storePlan(ctx, plan)
	return plan, nil
}

// GetDefaultPlan returns the plan flagged as default, falling back to the
// configured free plan name.
func (s *service) GetDefaultPlan(ctx context.Context) (*models.Plan, error) {
	plan, err := s.repo.FindDefaultPlan(ctx)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load default plan")
	}
	if s.freePlanName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidPlan, "no default plan configured")
	}
	return s.GetPlanByName(ctx, s.freePlanName)
}

func (s *service) ListPlans(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

func (s *service) GetPackage(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "package id is required")
	}
	pkg, err := s.repo.FindPackage(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "credit package not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit package")
	}
	return pkg, nil
}

// GetPackageFeature returns the allowance a package grants. A package that
// only carries a credit amount grants it as AI_API credits at rate 1.
func (s *service) GetPackageFeature(ctx context.Context, id uuid.UUID) (types.FeatureSet, error) {
	pkg, err := s.GetPackage(ctx, id)
	if err != nil {
		return types.FeatureSet{}, err
	}
	features := pkg.Features
	if features.TotalCredits().IsPositive() || !pkg.CreditAmount.IsPositive() {
		return features, nil
	}
	features.AIAPI = types.ServiceFeature{
		RequestLimit:   pkg.CreditAmount.IntPart(),
		CreditLimit:    pkg.CreditAmount,
		ConversionRate: decimal.NewFromInt(1),
	}
	return features, nil
}

func (s *service) ListPackages(ctx context.Context) ([]models.CreditPackage, error) {
	pkgs, err := s.repo.ListActivePackages(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit packages")
	}
	return pkgs, nil
}

func (s *service) InvalidatePlan(ctx context.Context, name string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, s.planKey(name))
}

func (s *service) planKey(name string) string {
	return s.cache.CacheKey("plan", name)
}

func (s *service) cachedPlan(ctx context.Context, name string) (*models.Plan, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, s.planKey(name))
	if err != nil {
		return nil, false
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		s.warn(ctx, name, "discarding undecodable cached plan")
		return nil, false
	}
	return &plan, true
}

func (s *service) storePlan(ctx context.Context, plan *models.Plan) {
	if s.cache == nil {
		return
	}
	buf, err := json.Marshal(plan)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.planKey(plan.Name), string(buf), s.ttl); err != nil {
		s.warn(ctx, plan.Name, "plan cache write failed")
	}
}

func (s *service) warn(ctx context.Context, plan, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "plan", plan), msg)
}
