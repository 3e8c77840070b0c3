package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/metrics"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

const (
	BucketSubscription = "subscription"
	BucketPackage      = "package"
)

// TxRunner runs a callback in a retried serializable transaction.
type TxRunner interface {
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SubscriptionResolver returns the shop's current subscription after cycle
// reconciliation, along with any notifications reconciliation raised.
type SubscriptionResolver interface {
	CurrentTx(ctx context.Context, tx *gorm.DB, shopID uuid.UUID) (*models.Subscription, []*notifications.Delivery, error)
}

// Notifier records notifications in a transaction and delivers them later.
type Notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, in notifications.Input) (*notifications.Delivery, error)
	DeliverAll(ctx context.Context, deliveries []*notifications.Delivery) error
}

// Request reports units of one service consumed by a shop. Tokens is the
// total token count of the call and only matters for AI_API.
type Request struct {
	ShopID    uuid.UUID
	ShopName  string
	Recipient string
	Service   enums.Service
	Units     int64
	Tokens    int64
}

// BucketDeduction is what one bucket contributed.
type BucketDeduction struct {
	Kind     string          `json:"kind"`
	ID       uuid.UUID       `json:"id"`
	Requests int64           `json:"requests"`
	Credits  decimal.Decimal `json:"credits"`
	Expired  bool            `json:"expired,omitempty"`
}

// Result summarizes a deduction.
type Result struct {
	Service     enums.Service     `json:"service"`
	Requested   int64             `json:"requested"`
	Deducted    int64             `json:"deducted"`
	Shortfall   int64             `json:"shortfall"`
	CreditsUsed decimal.Decimal   `json:"credits_used"`
	Buckets     []BucketDeduction `json:"buckets"`
}

// LedgerParams wires the ledger.
type LedgerParams struct {
	DB            TxRunner
	Repo          Repository
	Subscriptions SubscriptionResolver
	Notifier      Notifier
	Policy        Policy
	Metrics       *metrics.LedgerMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// Ledger meters consumption against the subscription allowance first and
// then active credit packages, oldest first.
type Ledger struct {
	db       TxRunner
	repo     Repository
	subs     SubscriptionResolver
	notifier Notifier
	policy   Policy
	metrics  *metrics.LedgerMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewLedger validates params and builds the ledger.
func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription resolver required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		db:       params.DB,
		repo:     params.Repo,
		subs:     params.Subscriptions,
		notifier: params.Notifier,
		policy:   params.Policy.normalized(),
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// ReportUsage deducts and maps any shortfall to INSUFFICIENT_CREDITS. The
// covered part stays committed; the result is returned with the error.
func (l *Ledger) ReportUsage(ctx context.Context, req Request) (*Result, error) {
	result, err := l.Deduct(ctx, req)
	if result == nil {
		return nil, err
	}
	if result.Shortfall > 0 {
		short := pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").WithDetails(map[string]any{
			"service":   result.Service,
			"requested": result.Requested,
			"deducted":  result.Deducted,
			"shortfall": result.Shortfall,
		})
		return result, multierr.Append(short, err)
	}
	return result, err
}

// Deduct runs the waterfall in one serializable transaction and returns the
// units no bucket could cover. Email failures after commit come back as
// NOTIFICATION_DELIVERY_FAILED alongside the committed result.
func (l *Ledger) Deduct(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if l.logg != nil {
		ctx = l.logg.WithShopID(ctx, req.ShopID.String())
		ctx = l.logg.WithField(ctx, "service", req.Service.String())
	}

	var (
		result     *Result
		deliveries []*notifications.Delivery
	)
	err := l.db.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		deliveries = nil
		var err error
		result, deliveries, err = l.deductTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, bucket := range result.Buckets {
		l.metrics.AddDeducted(req.Service.String(), bucket.Kind, bucket.Requests)
		if bucket.Expired {
			l.metrics.IncPackageExpired()
		}
	}
	l.metrics.AddShortfall(req.Service.String(), result.Shortfall)

	return result, l.notifier.DeliverAll(ctx, deliveries)
}

func (l *Ledger) deductTx(ctx context.Context, tx *gorm.DB, req Request) (*Result, []*notifications.Delivery, error) {
	now := l.now()
	repo := l.repo.WithTx(tx)
	result := &Result{Service: req.Service, Requested: req.Units, CreditsUsed: decimal.Zero}

	sub, deliveries, err := l.subs.CurrentTx(ctx, tx, req.ShopID)
	if err != nil {
		return nil, nil, err
	}

	remaining := req.Units
	if sub != nil && sub.Status.IsLive() && sub.UsageID != nil {
		row, err := repo.FindServiceUsage(ctx, *sub.UsageID, req.Service)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription usage")
		}
		if row != nil {
			requests, credits := take(*row, remaining, l.policy.DefaultConversionRate)
			if requests > 0 && credits.IsPositive() {
				if err := l.commit(ctx, repo, row, req, requests, credits, result, now); err != nil {
					return nil, nil, err
				}
				result.Buckets = append(result.Buckets, BucketDeduction{Kind: BucketSubscription, ID: sub.ID, Requests: requests, Credits: credits})
				remaining -= requests

				if !row.AvailableCredits().IsPositive() {
					d, err := l.notifier.Notify(ctx, tx, exhaustedInput(req, sub, now))
					if err != nil {
						return nil, nil, err
					}
					deliveries = appendDelivery(deliveries, d)
				}
			}

			if kind, ok := l.policy.Thresholds.Decide(usageRatio(*row)); ok {
				d, err := l.notifier.Notify(ctx, tx, thresholdInput(req, sub, *row, kind, now))
				if err != nil {
					return nil, nil, err
				}
				deliveries = appendDelivery(deliveries, d)
			}
		}
	}

	if remaining > 0 {
		purchases, err := repo.ListActivePurchases(ctx, req.ShopID)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit purchases")
		}
		for i := range purchases {
			if remaining == 0 {
				break
			}
			purchase := purchases[i]
			if purchase.UsageID == nil {
				continue
			}
			row, err := repo.FindServiceUsage(ctx, *purchase.UsageID, req.Service)
			if err != nil {
				return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load package usage")
			}
			if row == nil {
				continue
			}
			requests, credits := take(*row, remaining, l.policy.DefaultConversionRate)
			if requests <= 0 || !credits.IsPositive() {
				continue
			}
			if err := l.commit(ctx, repo, row, req, requests, credits, result, now); err != nil {
				return nil, nil, err
			}
			remaining -= requests

			deduction := BucketDeduction{Kind: BucketPackage, ID: purchase.ID, Requests: requests, Credits: credits}
			d, expired, err := l.expireIfSpent(ctx, tx, repo, purchase, purchases, req, now)
			if err != nil {
				return nil, nil, err
			}
			deduction.Expired = expired
			deliveries = appendDelivery(deliveries, d)
			result.Buckets = append(result.Buckets, deduction)
		}
	}

	result.Shortfall = remaining
	result.Deducted = req.Units - remaining
	return result, deliveries, nil
}

func (l *Ledger) commit(ctx context.Context, repo Repository, row *models.ServiceUsage, req Request, requests int64, credits decimal.Decimal, result *Result, now time.Time) error {
	row.Consume(requests, credits)
	if req.Service.TracksTokens() {
		rollWindows(row, requests, apportion(req.Tokens, req.Units, result.Deducted, requests), now)
	}
	if err := row.CheckBalance(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "usage balance violated")
	}
	if err := repo.SaveServiceUsage(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save usage")
	}
	result.Deducted += requests
	result.CreditsUsed = result.CreditsUsed.Add(credits)
	return nil
}

// expireIfSpent expires a package once its combined credits are used up and
// raises PACKAGE_EXPIRED listing the packages still active. Expiry is marked
// in all so later packages of the same deduction see it.
func (l *Ledger) expireIfSpent(ctx context.Context, tx *gorm.DB, repo Repository, purchase models.CreditPurchase, all []models.CreditPurchase, req Request, now time.Time) (*notifications.Delivery, bool, error) {
	usage, err := repo.FindUsage(ctx, *purchase.UsageID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load package usage")
	}
	if usage == nil {
		return nil, false, nil
	}
	granted, used := decimal.Zero, decimal.Zero
	for _, svc := range usage.Services {
		granted = granted.Add(svc.TotalCredits)
		used = used.Add(svc.TotalCreditsUsed)
	}
	if !granted.IsPositive() || used.LessThan(granted) {
		return nil, false, nil
	}

	flipped, err := repo.ExpirePurchase(ctx, purchase.ID, now)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire credit purchase")
	}
	if !flipped {
		return nil, false, nil
	}

	remaining := []string{}
	for i := range all {
		if all[i].ID == purchase.ID {
			all[i].Status = enums.CreditPurchaseStatusExpired
			continue
		}
		if all[i].Status == enums.CreditPurchaseStatusActive {
			remaining = append(remaining, all[i].Snapshot.PackageName)
		}
	}

	d, err := l.notifier.Notify(ctx, tx, notifications.Input{
		ShopID:  req.ShopID,
		Type:    enums.NotificationTypePackageExpired,
		Title:   "Credit package used up",
		Message: fmt.Sprintf("The credit package %s has no credits left.", purchase.Snapshot.PackageName),
		Metadata: types.JSONMap{
			"credit_purchase_id": purchase.ID.String(),
			"package_name":       purchase.Snapshot.PackageName,
			"remaining_packages": remaining,
		},
		DedupKeys: []string{"credit_purchase_id"},
		At:        now,
		Recipient: req.Recipient,
		Usage: &email.UsageData{
			ShopName:          req.ShopName,
			Service:           req.Service.String(),
			PackageName:       purchase.Snapshot.PackageName,
			RemainingPackages: remaining,
		},
	})
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func exhaustedInput(req Request, sub *models.Subscription, now time.Time) notifications.Input {
	return notifications.Input{
		ShopID:  req.ShopID,
		Type:    enums.NotificationTypeSubscriptionExhausted,
		Title:   "Subscription credits used up",
		Message: fmt.Sprintf("Your %s plan has no %s credits left this cycle.", sub.PlanName, req.Service),
		Metadata: types.JSONMap{
			"subscription_id": sub.ID.String(),
			"service":         req.Service.String(),
		},
		DedupKeys: []string{"subscription_id", "service"},
		At:        now,
		Recipient: req.Recipient,
		Usage:     &email.UsageData{ShopName: req.ShopName, Service: req.Service.String()},
	}
}

func thresholdInput(req Request, sub *models.Subscription, row models.ServiceUsage, kind enums.NotificationType, now time.Time) notifications.Input {
	percent := int(usageRatio(row) * 100)
	title := "Approaching usage limit"
	if kind == enums.NotificationTypeUsageOverLimit {
		title = "Usage limit reached"
	}
	return notifications.Input{
		ShopID:  req.ShopID,
		Type:    kind,
		Title:   title,
		Message: fmt.Sprintf("You have used %d%% of your %s allowance.", percent, req.Service),
		Metadata: types.JSONMap{
			"service":         req.Service.String(),
			"subscription_id": sub.ID.String(),
			"percent":         percent,
		},
		DedupKeys: []string{"service", "subscription_id"},
		At:        now,
		Recipient: req.Recipient,
		Usage:     &email.UsageData{ShopName: req.ShopName, Service: req.Service.String(), Percent: percent},
	}
}

func appendDelivery(list []*notifications.Delivery, d *notifications.Delivery) []*notifications.Delivery {
	if d == nil {
		return list
	}
	return append(list, d)
}

func validateRequest(req Request) error {
	if req.ShopID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeMissingParameters, "shop is required")
	}
	if _, err := enums.ParseService(string(req.Service)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid service")
	}
	if req.Units <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "units must be positive")
	}
	if req.Tokens < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "tokens must not be negative")
	}
	return nil
}
