package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

const defaultDedupWindow = 24 * time.Hour

// Mailer renders and sends the billing emails.
type Mailer interface {
	SendSubscriptionEmail(ctx context.Context, to string, data email.SubscriptionData, status string) error
	SendUsageEmail(ctx context.Context, to string, data email.UsageData, kind string) error
}

// Recipients resolves the address a shop's notifications are sent to.
type Recipients interface {
	Recipient(ctx context.Context, shopID uuid.UUID, preferred string) (string, error)
}

// Thresholds are the usage ratios that trigger alerts.
type Thresholds struct {
	Approaching float64
	OverLimit   float64
}

// Decide maps a usage ratio to the alert it warrants, if any.
func (t Thresholds) Decide(ratio float64) (enums.NotificationType, bool) {
	over := t.OverLimit
	if over <= 0 {
		over = 1.0
	}
	approaching := t.Approaching
	if approaching <= 0 {
		approaching = 0.8
	}
	switch {
	case ratio >= over:
		return enums.NotificationTypeUsageOverLimit, true
	case ratio >= approaching:
		return enums.NotificationTypeUsageApproachingLimit, true
	}
	return "", false
}

// SubscriptionEmail selects the lifecycle email for a notification.
type SubscriptionEmail struct {
	Data   email.SubscriptionData
	Status string
}

// Input describes one notification. DedupKeys lists the metadata keys that
// must match an earlier notification of the same type for it to be
// suppressed; an empty list suppresses on type alone. Force skips dedup.
type Input struct {
	ShopID    uuid.UUID
	Type      enums.NotificationType
	Title     string
	Message   string
	Metadata  types.JSONMap
	DedupKeys []string
	Force     bool
	At        time.Time

	Recipient    string
	Subscription *SubscriptionEmail
	Usage        *email.UsageData
}

// Delivery is a persisted notification waiting for the transaction that
// created it to commit before its email goes out.
type Delivery struct {
	Notification models.Notification
	Recipient    string
	subscription *SubscriptionEmail
	usage        *email.UsageData
}

// DispatcherParams wires the dispatcher.
type DispatcherParams struct {
	Repo        Repository
	Mailer      Mailer
	Recipients  Recipients
	DedupWindow time.Duration
	Now         func() time.Time
	Logger      *logger.Logger
}

// Dispatcher records notifications inside billing transactions and sends
// their emails after commit.
type Dispatcher struct {
	repo       Repository
	mailer     Mailer
	recipients Recipients
	window     time.Duration
	now        func() time.Time
	logg       *logger.Logger
}

// NewDispatcher validates params and builds a dispatcher. A nil mailer
// disables email; notifications are still recorded.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Mailer != nil && params.Recipients == nil {
		return nil, fmt.Errorf("recipient resolver required when email is enabled")
	}
	window := params.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Dispatcher{
		repo:       params.Repo,
		mailer:     params.Mailer,
		recipients: params.Recipients,
		window:     window,
		now:        now,
		logg:       params.Logger,
	}, nil
}

// Notify inserts the notification through tx unless an equivalent one exists
// inside the dedup window. It returns nil when suppressed.
func (d *Dispatcher) Notify(ctx context.Context, tx *gorm.DB, in Input) (*Delivery, error) {
	if in.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "notification shop id required")
	}
	if !in.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid notification type %q", in.Type))
	}
	at := in.At
	if at.IsZero() {
		at = d.now()
	}
	repo := d.repo.WithTx(tx)

	if !in.Force {
		recent, err := repo.ListSince(ctx, in.ShopID, in.Type, at.Add(-d.window))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load recent notifications")
		}
		for _, prior := range recent {
			if sameDedupKeys(prior.Metadata, in.Metadata, in.DedupKeys) {
				return nil, nil
			}
		}
	}

	row := models.Notification{
		ShopID:    in.ShopID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Metadata:  in.Metadata,
		CreatedAt: at.UTC(),
	}
	if err := repo.Create(ctx, &row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}

	return &Delivery{
		Notification: row,
		Recipient:    in.Recipient,
		subscription: in.Subscription,
		usage:        in.Usage,
	}, nil
}

// Deliver sends the email for a committed notification. Failures carry an
// email.Reason and never affect billing state.
func (d *Dispatcher) Deliver(ctx context.Context, delivery *Delivery) error {
	if delivery == nil || d.mailer == nil {
		return nil
	}
	if delivery.subscription == nil && delivery.usage == nil {
		return nil
	}

	n := delivery.Notification
	to, err := d.recipients.Recipient(ctx, n.ShopID, delivery.Recipient)
	if err != nil {
		return &email.DeliveryError{Reason: email.ReasonData, Err: fmt.Errorf("resolve recipient: %w", err)}
	}

	if delivery.subscription != nil {
		return d.mailer.SendSubscriptionEmail(ctx, to, delivery.subscription.Data, delivery.subscription.Status)
	}
	return d.mailer.SendUsageEmail(ctx, to, *delivery.usage, n.Type.String())
}

// DeliverAll sends every delivery, logs each failure and returns them joined
// as NOTIFICATION_DELIVERY_FAILED. Deliveries run after the billing
// transaction commits, so the error never implies a rollback.
func (d *Dispatcher) DeliverAll(ctx context.Context, deliveries []*Delivery) error {
	var errs error
	for _, delivery := range deliveries {
		if err := d.Deliver(ctx, delivery); err != nil {
			d.logFailure(ctx, delivery, err)
			errs = multierr.Append(errs, err)
		}
	}
	if errs == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeNotificationFailed, errs, "notification email failed").WithDetails(map[string]any{
		"committed": true,
		"failed":    len(multierr.Errors(errs)),
	})
}

// Undelivered reports whether err only says that emails failed after the
// state they describe was committed.
func Undelivered(err error) bool {
	return pkgerrors.Is(err, pkgerrors.CodeNotificationFailed)
}

func (d *Dispatcher) logFailure(ctx context.Context, delivery *Delivery, err error) {
	if d.logg == nil {
		return
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"shop_id":           delivery.Notification.ShopID.String(),
		"notification_id":   delivery.Notification.ID.String(),
		"notification_type": delivery.Notification.Type.String(),
		"failure_reason":    string(email.ReasonOf(err)),
	})
	d.logg.Error(ctx, "notification email failed", err)
}

func sameDedupKeys(prior, next types.JSONMap, keys []string) bool {
	for _, key := range keys {
		if fmt.Sprint(prior[key]) != fmt.Sprint(next[key]) {
			return false
		}
	}
	return true
}
