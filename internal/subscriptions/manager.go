package subscriptions

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
	"github.com/angelmondragon/meterly-backend/internal/promotions"
	"github.com/angelmondragon/meterly-backend/internal/usage"
	"github.com/angelmondragon/meterly-backend/pkg/db"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier records notifications in a transaction and delivers them later.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, in notifications.Input) (*notifications.Delivery, error)
	DeliverAll(ctx context.Context, deliveries []*notifications.Delivery) error
}

// Service is the lifecycle surface exposed to the HTTP layer.
type Service interface {
	Subscribe(ctx context.Context, in SubscribeInput) (*Outcome, error)
	Update(ctx context.Context, in SubscribeInput) (*Outcome, error)
	Renew(ctx context.Context, in RenewInput) (*Outcome, error)
	Cancel(ctx context.Context, in CancelInput) (*Outcome, error)
	Freeze(ctx context.Context, shopID uuid.UUID, recipient string) (*Outcome, error)
	Unfreeze(ctx context.Context, shopID uuid.UUID, recipient string) (*Outcome, error)
	UpdateStatus(ctx context.Context, in StatusInput) (*Outcome, error)
	GetCurrent(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error)
	Details(ctx context.Context, shopID uuid.UUID) (*Details, error)
}

var _ Service = (*Manager)(nil)

// ManagerParams groups dependencies for the lifecycle manager.
type ManagerParams struct {
	DB          txRunner
	Repo        Repository
	Catalog     catalog.Service
	Promotions  promotions.Resolver
	Buckets     *usage.Buckets
	Idempotency idempotency.Repository
	Notifier    Notifier
	Policy      Policy
	Logger      *logger.Logger
	Now         func() time.Time
}

// Manager owns the subscription state machine. Every operation runs in one
// serializable transaction; emails go out after it commits.
type Manager struct {
	db       txRunner
	repo     Repository
	catalog  catalog.Service
	promos   promotions.Resolver
	buckets  *usage.Buckets
	keys     idempotency.Repository
	notifier Notifier
	policy   Policy
	logg     *logger.Logger
	now      func() time.Time
}

// NewManager builds a lifecycle manager with the required dependencies.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Promotions == nil {
		return nil, fmt.Errorf("promotion resolver required")
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
	return &Manager{
		db:       params.DB,
		repo:     params.Repo,
		catalog:  params.Catalog,
		promos:   params.Promotions,
		buckets:  params.Buckets,
		keys:     params.Idempotency,
		notifier: params.Notifier,
		policy:   params.Policy.normalized(),
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Outcome is what a mutating operation produced.
type Outcome struct {
	Subscription *models.Subscription   `json:"subscription"`
	Payment      *models.Payment        `json:"payment,omitempty"`
	Promotion    *promotions.Adjustment `json:"promotion,omitempty"`
	Replayed     bool                   `json:"replayed"`
}

// txScope is the per-attempt view of the manager's dependencies. It is
// rebuilt on every serializable retry so no state leaks between attempts.
type txScope struct {
	tx         *gorm.DB
	now        time.Time
	repo       Repository
	catalog    catalog.Service
	promos     promotions.Resolver
	buckets    *usage.Buckets
	keys       idempotency.Repository
	deliveries []*notifications.Delivery
}

func (m *Manager) scope(tx *gorm.DB) *txScope {
	return &txScope{
		tx:      tx,
		now:     m.now().UTC(),
		repo:    m.repo.WithTx(tx),
		catalog: m.catalog.WithTx(tx),
		promos:  m.promos.WithTx(tx),
		buckets: m.buckets.WithTx(tx),
		keys:    m.keys.WithTx(tx),
	}
}

// run executes fn in a serializable transaction and delivers the
// notifications of the committed attempt. A delivery failure is returned
// as NOTIFICATION_DELIVERY_FAILED; the transaction stays committed.
func (m *Manager) run(ctx context.Context, fn func(s *txScope) error) error {
	var deliveries []*notifications.Delivery
	err := m.db.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		s := m.scope(tx)
		if err := fn(s); err != nil {
			return err
		}
		deliveries = s.deliveries
		return nil
	})
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		return nil
	}
	return m.notifier.DeliverAll(ctx, deliveries)
}

// settle keeps the committed value when only email delivery failed.
func settle[T any](out *T, err error) (*T, error) {
	if err != nil && !notifications.Undelivered(err) {
		return nil, err
	}
	return out, err
}

func (m *Manager) notify(ctx context.Context, s *txScope, in notifications.Input) error {
	if in.At.IsZero() {
		in.At = s.now
	}
	delivery, err := m.notifier.Notify(ctx, s.tx, in)
	if err != nil {
		return err
	}
	if delivery != nil {
		s.deliveries = append(s.deliveries, delivery)
	}
	return nil
}

func (m *Manager) logContext(ctx context.Context, shopID uuid.UUID, op string) context.Context {
	if m.logg == nil {
		return ctx
	}
	ctx = m.logg.WithShopID(ctx, shopID.String())
	return m.logg.WithOperation(ctx, op)
}

func (s *txScope) shop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	shop, err := s.repo.FindShop(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	if shop == nil {
		return nil, pkgerrors.New(pkgerrors.CodeShopNotFound, "shop not found")
	}
	return shop, nil
}

func (s *txScope) plan(ctx context.Context, name string) (*models.Plan, error) {
	return s.catalog.GetPlanByName(ctx, name)
}

func (s *txScope) live(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindLive(ctx, shopID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load live subscription")
	}
	return sub, nil
}

func (s *txScope) save(ctx context.Context, sub *models.Subscription) error {
	if sub.EndDate.Before(sub.StartDate) {
		return pkgerrors.New(pkgerrors.CodeInvalidDates, "subscription end date precedes start date")
	}
	if err := s.repo.Save(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
	}
	return nil
}

func (s *txScope) create(ctx context.Context, sub *models.Subscription) error {
	if sub.EndDate.Before(sub.StartDate) {
		return pkgerrors.New(pkgerrors.CodeInvalidDates, "subscription end date precedes start date")
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "shop already has a live subscription")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return nil
}

// ensureUsage provisions the allowance of a subscription that has none yet
// and fills in service rows an existing allowance is missing.
func (s *txScope) ensureUsage(ctx context.Context, sub *models.Subscription, plan *models.Plan) (bool, error) {
	if sub.UsageID != nil {
		_, err := s.buckets.Complete(ctx, *sub.UsageID, plan.Features)
		return false, err
	}
	u, err := s.buckets.Provision(ctx, usage.Owner{ShopID: sub.ShopID, SubscriptionID: &sub.ID}, plan.Features)
	if err != nil {
		return false, err
	}
	sub.UsageID = &u.ID
	return true, nil
}

// regrant resets the allowance to the plan's features for a new cycle.
func (s *txScope) regrant(ctx context.Context, sub *models.Subscription, plan *models.Plan) error {
	created, err := s.ensureUsage(ctx, sub, plan)
	if err != nil || created {
		return err
	}
	return s.buckets.Regrant(ctx, *sub.UsageID, plan.Features)
}

// replay returns the outcome of an already applied external transaction.
func (s *txScope) replay(ctx context.Context, scope idempotency.Scope) (*Outcome, error) {
	key, err := s.keys.Find(ctx, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency key")
	}
	if key == nil {
		return nil, nil
	}
	out := &Outcome{Replayed: true}
	if key.SubscriptionID == nil {
		return out, nil
	}
	sub, err := s.repo.FindByID(ctx, *key.SubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load replayed subscription")
	}
	out.Subscription = sub
	if sub != nil {
		payment, err := s.repo.LatestPayment(ctx, sub.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load replayed payment")
		}
		out.Payment = payment
	}
	return out, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func requireShop(shopID uuid.UUID) error {
	if shopID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeMissingParameters, "shop id is required")
	}
	return nil
}
