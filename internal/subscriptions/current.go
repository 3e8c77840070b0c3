package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

// Details is the read model behind the subscription endpoint.
type Details struct {
	Subscription  *models.Subscription `json:"subscription"`
	Plan          *models.Plan         `json:"plan"`
	LatestPayment *models.Payment      `json:"latest_payment,omitempty"`
	Cycle         CycleStatus          `json:"cycle"`
}

// GetCurrent returns the shop's live subscription after reconciling its
// cycle. A shop without one is enrolled in the default plan.
func (m *Manager) GetCurrent(ctx context.Context, shopID uuid.UUID) (*models.Subscription, error) {
	if err := requireShop(shopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, shopID, "get_current")

	var sub *models.Subscription
	err := m.run(ctx, func(s *txScope) error {
		var err error
		sub, err = m.current(ctx, s, shopID)
		return err
	})
	return settle(sub, err)
}

// CurrentTx is GetCurrent inside a caller's transaction. The returned
// deliveries must be sent once that transaction commits.
func (m *Manager) CurrentTx(ctx context.Context, tx *gorm.DB, shopID uuid.UUID) (*models.Subscription, []*notifications.Delivery, error) {
	if err := requireShop(shopID); err != nil {
		return nil, nil, err
	}
	s := m.scope(tx)
	sub, err := m.current(ctx, s, shopID)
	if err != nil {
		return nil, nil, err
	}
	return sub, s.deliveries, nil
}

// Details returns the current subscription with its plan, latest payment and
// cycle position.
func (m *Manager) Details(ctx context.Context, shopID uuid.UUID) (*Details, error) {
	if err := requireShop(shopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, shopID, "details")

	var out *Details
	err := m.run(ctx, func(s *txScope) error {
		sub, err := m.current(ctx, s, shopID)
		if err != nil {
			return err
		}
		plan, err := s.plan(ctx, sub.PlanName)
		if err != nil {
			return err
		}
		payment, err := s.repo.LatestPayment(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load latest payment")
		}
		out = &Details{
			Subscription:  sub,
			Plan:          plan,
			LatestPayment: payment,
			Cycle:         CheckCycle(*sub, s.now, m.policy),
		}
		return nil
	})
	return settle(out, err)
}

// SweepResult summarizes one reconciliation pass. Undelivered counts shops
// whose transition committed but whose emails failed.
type SweepResult struct {
	Checked     int
	Failed      int
	Undelivered int
}

// ReconcileDue reconciles every shop whose subscription has reached its end
// date or is inside the trial notice window. Each shop runs in its own
// transaction; failures are logged and counted.
func (m *Manager) ReconcileDue(ctx context.Context, limit int) (SweepResult, error) {
	now := m.now().UTC()
	horizon := time.Duration(m.policy.maxTrialNotifyDays()+1) * day
	shopIDs, err := m.repo.ListDueShops(ctx, now, horizon, limit)
	if err != nil {
		return SweepResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due subscriptions")
	}

	var result SweepResult
	for _, shopID := range shopIDs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++
		_, err := m.GetCurrent(ctx, shopID)
		switch {
		case err == nil:
		case notifications.Undelivered(err):
			result.Undelivered++
		default:
			result.Failed++
			if m.logg != nil {
				m.logg.Error(m.logContext(ctx, shopID, "reconcile"), "subscription reconciliation failed", err)
			}
		}
	}
	return result, nil
}

func (m *Manager) current(ctx context.Context, s *txScope, shopID uuid.UUID) (*models.Subscription, error) {
	shop, err := s.shop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	sub, err := s.live(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return m.createDefault(ctx, s, shop)
	}

	plan, err := s.plan(ctx, sub.PlanName)
	if err != nil {
		return nil, err
	}
	created, err := s.ensureUsage(ctx, sub, plan)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.save(ctx, sub); err != nil {
			return nil, err
		}
	}
	return m.reconcile(ctx, s, shop, sub, plan)
}

// createDefault enrolls the shop in the default plan without a payment.
func (m *Manager) createDefault(ctx context.Context, s *txScope, shop *models.Shop) (*models.Subscription, error) {
	plan, err := s.catalog.GetDefaultPlan(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now
	sub := &models.Subscription{
		ID:              uuid.New(),
		ShopID:          shop.ID,
		PlanID:          plan.ID,
		PlanName:        plan.Name,
		Status:          enums.SubscriptionStatusActive,
		StartDate:       now,
		EndDate:         nextCycleEnd(now, 0),
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if _, err := s.ensureUsage(ctx, sub, plan); err != nil {
		return nil, err
	}
	if err := s.create(ctx, sub); err != nil {
		return nil, err
	}
	if m.logg != nil {
		m.logg.Info(m.logg.WithSubscriptionID(ctx, sub.ID.String()), "enrolled shop in default plan")
	}
	return sub, nil
}

// reconcile applies the transition the cycle position calls for. Calling it
// again without time passing changes nothing.
func (m *Manager) reconcile(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, plan *models.Plan) (*models.Subscription, error) {
	cycle := CheckCycle(*sub, s.now, m.policy)
	switch {
	case cycle.TrialNotice:
		return sub, m.notifyTrialEnding(ctx, s, shop, sub, cycle.DaysUntilTrialEnds)
	case cycle.NeedsConversion:
		return sub, m.convertTrial(ctx, s, shop, sub, plan)
	case !cycle.IsExpired:
		return sub, nil
	case sub.Status == enums.SubscriptionStatusOnHold:
		return m.expire(ctx, s, shop, sub)
	default:
		return sub, m.rollCycle(ctx, s, shop, sub, plan)
	}
}

// convertTrial turns an ended trial into the first paid cycle and settles
// the payment scheduled at subscribe time.
func (m *Manager) convertTrial(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, plan *models.Plan) error {
	now := s.now
	end := nextCycleEnd(now, 0)

	scheduled, err := s.repo.LatestPaymentWithStatus(ctx, sub.ID, enums.PaymentStatusScheduled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scheduled payment")
	}
	if scheduled != nil {
		// keeps bonus days granted at subscribe time
		end = now.Add(scheduled.BillingPeriodEnd.Sub(scheduled.BillingPeriodStart))
		scheduled.Status = enums.PaymentStatusSucceeded
		scheduled.BillingPeriodStart = now
		scheduled.BillingPeriodEnd = end
		if err := s.repo.SavePayment(ctx, scheduled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle scheduled payment")
		}
	}

	sub.Status = enums.SubscriptionStatusActive
	sub.Metadata.HasTrialEnded = true
	sub.StatusChangedAt = now
	sub.StartDate = now
	sub.EndDate = end
	if err := s.regrant(ctx, sub, plan); err != nil {
		return err
	}
	if err := s.save(ctx, sub); err != nil {
		return err
	}
	return m.notifyTrialEnded(ctx, s, shop, sub)
}

// rollCycle auto-renews an ACTIVE subscription past its end. Paid plans get
// a renewal notice; no payment is recorded here.
func (m *Manager) rollCycle(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, plan *models.Plan) error {
	now := s.now
	sub.StartDate = now
	sub.EndDate = nextCycleEnd(now, 0)
	if err := s.regrant(ctx, sub, plan); err != nil {
		return err
	}
	if err := s.save(ctx, sub); err != nil {
		return err
	}
	if m.policy.isFree(sub.PlanName) {
		return nil
	}
	return m.notifyStatus(ctx, s, shop, sub, plan, nil, "", enums.SubscriptionStatusRenewing.String())
}

// expire closes an ON_HOLD subscription at the end of its cycle and falls
// back to the default plan.
func (m *Manager) expire(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription) (*models.Subscription, error) {
	now := s.now
	sub.Status = enums.SubscriptionStatusCancelled
	sub.EndDate = maxTime(now, sub.StartDate)
	sub.StatusChangedAt = now
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}
	if err := m.notifyExpired(ctx, s, shop, sub); err != nil {
		return nil, err
	}
	return m.createDefault(ctx, s, shop)
}
