package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/internal/idempotency"
	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/internal/promotions"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// SubscribeInput starts or changes a shop's plan.
type SubscribeInput struct {
	ShopID                uuid.UUID
	PlanName              string
	ExternalTransactionID string
	Recipient             string
}

func (in SubscribeInput) validate() error {
	if err := requireShop(in.ShopID); err != nil {
		return err
	}
	if strings.TrimSpace(in.PlanName) == "" {
		return pkgerrors.New(pkgerrors.CodeMissingParameters, "plan name is required")
	}
	return nil
}

// RenewInput starts a new paid cycle for the live subscription.
type RenewInput struct {
	ShopID                uuid.UUID
	ExternalTransactionID string
	Recipient             string
}

// Subscribe cancels any live subscription and enrolls the shop in planName.
func (m *Manager) Subscribe(ctx context.Context, in SubscribeInput) (*Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return m.enroll(ctx, in, enums.IdempotencyOperationSubscribe)
}

// Update moves the shop to another plan. The current subscription ends now.
func (m *Manager) Update(ctx context.Context, in SubscribeInput) (*Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return m.enroll(ctx, in, enums.IdempotencyOperationUpdate)
}

func (m *Manager) enroll(ctx context.Context, in SubscribeInput, op enums.IdempotencyOperation) (*Outcome, error) {
	ctx = m.logContext(ctx, in.ShopID, strings.ToLower(string(op)))

	var (
		out   *Outcome
		prior *models.Subscription
	)
	err := m.run(ctx, func(s *txScope) error {
		out, prior = nil, nil
		scope := idempotency.Scope{ShopID: in.ShopID, ExternalTransactionID: in.ExternalTransactionID, Operation: op}
		replayed, err := s.replay(ctx, scope)
		if err != nil || replayed != nil {
			out = replayed
			return err
		}

		shop, err := s.shop(ctx, in.ShopID)
		if err != nil {
			return err
		}
		plan, err := s.plan(ctx, in.PlanName)
		if err != nil {
			return err
		}

		if prior, err = s.live(ctx, shop.ID); err != nil {
			return err
		}
		reason := fmt.Sprintf("replaced by %s", plan.Name)
		if _, err := s.repo.CancelLive(ctx, shop.ID, reason, s.now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel live subscription")
		}

		if out, err = m.start(ctx, s, shop, plan, in); err != nil {
			return err
		}
		return s.keys.Record(ctx, scope, idempotency.Reference{SubscriptionID: &out.Subscription.ID}, s.now)
	})
	if err != nil && !notifications.Undelivered(err) && prior != nil {
		err = multierr.Append(err, m.restore(ctx, prior))
	}
	return settle(out, err)
}

// start creates the subscription, its allowance and its first payment.
func (m *Manager) start(ctx context.Context, s *txScope, shop *models.Shop, plan *models.Plan, in SubscribeInput) (*Outcome, error) {
	now := s.now

	trial, err := m.trialEligible(ctx, s, shop.ID, plan)
	if err != nil {
		return nil, err
	}

	var adj *promotions.Adjustment
	if plan.Price.IsPositive() {
		if adj, err = s.promos.Resolve(ctx, shop.ID, plan.Name, plan.Price, now); err != nil {
			return nil, err
		}
	}
	extraDays := 0
	if adj != nil {
		extraDays = adj.ExtraDays
	}

	sub := &models.Subscription{
		ID:                    uuid.New(),
		ShopID:                shop.ID,
		PlanID:                plan.ID,
		PlanName:              plan.Name,
		Status:                enums.SubscriptionStatusActive,
		StartDate:             now,
		EndDate:               nextCycleEnd(now, extraDays),
		ExternalTransactionID: optionalString(in.ExternalTransactionID),
		StatusChangedAt:       now,
		CreatedAt:             now,
	}
	if trial {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = enums.SubscriptionStatusTrial
		sub.EndDate = trialEnd
		sub.Metadata = types.SubscriptionMetadata{
			HasTrial:       true,
			TrialDays:      plan.TrialDays,
			TrialStartDate: &now,
			TrialEndDate:   &trialEnd,
		}
	}
	if adj != nil {
		sub.Metadata.PromotionID = &adj.PromotionID
		sub.Metadata.PromotionCyclesRemaining = adj.DurationCycles - 1
	}

	if _, err := s.ensureUsage(ctx, sub, plan); err != nil {
		return nil, err
	}
	if err := s.create(ctx, sub); err != nil {
		return nil, err
	}

	var payment *models.Payment
	if plan.Price.IsPositive() {
		payment = &models.Payment{
			ShopID:                shop.ID,
			SubscriptionID:        sub.ID,
			Kind:                  enums.PaymentKindSubscribe,
			Amount:                plan.Price,
			AdjustedAmount:        plan.Price,
			Currency:              plan.Currency,
			Status:                enums.PaymentStatusSucceeded,
			BillingPeriodStart:    sub.StartDate,
			BillingPeriodEnd:      sub.EndDate,
			ExternalTransactionID: optionalString(in.ExternalTransactionID),
			CreatedAt:             now,
		}
		if trial {
			payment.Status = enums.PaymentStatusScheduled
			payment.BillingPeriodStart = sub.EndDate
			payment.BillingPeriodEnd = nextCycleEnd(sub.EndDate, extraDays)
		}
		if adj != nil {
			payment.AdjustedAmount = adj.AdjustedAmount
		}
		if err := s.repo.CreatePayment(ctx, payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if err := s.promos.Apply(ctx, shop.ID, payment.ID, adj, true, now); err != nil {
			return nil, err
		}
	}

	if err := m.notifyStatus(ctx, s, shop, sub, plan, payment, in.Recipient, sub.Status.String()); err != nil {
		return nil, err
	}
	return &Outcome{Subscription: sub, Payment: payment, Promotion: adj}, nil
}

// trialEligible reports whether the shop may trial plan: the plan offers a
// trial and the shop never had one on it.
func (m *Manager) trialEligible(ctx context.Context, s *txScope, shopID uuid.UUID, plan *models.Plan) (bool, error) {
	if !plan.HasTrial() {
		return false, nil
	}
	history, err := s.repo.ListByPlan(ctx, shopID, plan.Name)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan history")
	}
	for _, prior := range history {
		if prior.Metadata.HasTrial {
			return false, nil
		}
	}
	return true, nil
}

// restore puts the subscription replaced by a failed enrollment back to
// ACTIVE when the failure left the shop without a live one.
func (m *Manager) restore(ctx context.Context, prior *models.Subscription) error {
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		current, err := repo.FindByID(ctx, prior.ID)
		if err != nil || current == nil || current.Status.IsLive() {
			return err
		}
		live, err := repo.FindLive(ctx, prior.ShopID)
		if err != nil || live != nil {
			return err
		}
		current.Status = enums.SubscriptionStatusActive
		current.EndDate = prior.EndDate
		current.CanceledAt = nil
		current.CancelReason = nil
		current.StatusChangedAt = m.now().UTC()
		if m.logg != nil {
			m.logg.Warn(m.logg.WithSubscriptionID(ctx, prior.ID.String()), "restored prior subscription after failed enrollment")
		}
		return repo.Save(ctx, current)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore prior subscription")
	}
	return nil
}

// Renew charges a new cycle of the live paid subscription. A trial renewed
// early ends immediately and its scheduled charge is dropped.
func (m *Manager) Renew(ctx context.Context, in RenewInput) (*Outcome, error) {
	if err := requireShop(in.ShopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, in.ShopID, "renew")

	var out *Outcome
	err := m.run(ctx, func(s *txScope) error {
		out = nil
		scope := idempotency.Scope{ShopID: in.ShopID, ExternalTransactionID: in.ExternalTransactionID, Operation: enums.IdempotencyOperationRenew}
		replayed, err := s.replay(ctx, scope)
		if err != nil || replayed != nil {
			out = replayed
			return err
		}

		shop, err := s.shop(ctx, in.ShopID)
		if err != nil {
			return err
		}
		sub, err := s.live(ctx, shop.ID)
		if err != nil {
			return err
		}
		if sub == nil || m.policy.isFree(sub.PlanName) {
			return pkgerrors.New(pkgerrors.CodeSubscriptionNotFound, "no paid subscription to renew")
		}
		plan, err := s.plan(ctx, sub.PlanName)
		if err != nil {
			return err
		}

		if out, err = m.renewCycle(ctx, s, shop, sub, plan, in); err != nil {
			return err
		}
		return s.keys.Record(ctx, scope, idempotency.Reference{SubscriptionID: &sub.ID}, s.now)
	})
	return settle(out, err)
}

func (m *Manager) renewCycle(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, plan *models.Plan, in RenewInput) (*Outcome, error) {
	now := s.now

	if sub.Status == enums.SubscriptionStatusTrial {
		scheduled, err := s.repo.LatestPaymentWithStatus(ctx, sub.ID, enums.PaymentStatusScheduled)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scheduled payment")
		}
		if scheduled != nil {
			scheduled.Status = enums.PaymentStatusCancelled
			if err := s.repo.SavePayment(ctx, scheduled); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel scheduled payment")
			}
		}
		sub.Metadata.HasTrialEnded = true
	}

	adj, firstUse, err := m.promotionFor(ctx, s, shop.ID, sub, plan)
	if err != nil {
		return nil, err
	}
	extraDays := 0
	if adj != nil {
		extraDays = adj.ExtraDays
	}

	if sub.Status != enums.SubscriptionStatusActive {
		sub.Status = enums.SubscriptionStatusActive
		sub.StatusChangedAt = now
	}
	sub.CanceledAt = nil
	sub.CancelReason = nil
	sub.StartDate = now
	sub.EndDate = nextCycleEnd(now, extraDays)
	if ext := optionalString(in.ExternalTransactionID); ext != nil {
		sub.ExternalTransactionID = ext
	}
	if err := s.regrant(ctx, sub, plan); err != nil {
		return nil, err
	}
	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ShopID:                shop.ID,
		SubscriptionID:        sub.ID,
		Kind:                  enums.PaymentKindRenew,
		Amount:                plan.Price,
		AdjustedAmount:        plan.Price,
		Currency:              plan.Currency,
		Status:                enums.PaymentStatusSucceeded,
		BillingPeriodStart:    sub.StartDate,
		BillingPeriodEnd:      sub.EndDate,
		ExternalTransactionID: optionalString(in.ExternalTransactionID),
		CreatedAt:             now,
	}
	if adj != nil {
		payment.AdjustedAmount = adj.AdjustedAmount
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	if err := s.promos.Apply(ctx, shop.ID, payment.ID, adj, firstUse, now); err != nil {
		return nil, err
	}

	if err := m.notifyStatus(ctx, s, shop, sub, plan, payment, in.Recipient, enums.SubscriptionStatusRenewing.String()); err != nil {
		return nil, err
	}
	return &Outcome{Subscription: sub, Payment: payment, Promotion: adj}, nil
}

// promotionFor picks the adjustment for a renewal. A promotion carried from
// earlier cycles wins while it has cycles left and is still valid; otherwise
// a fresh one is resolved. firstUse is false for carried promotions.
func (m *Manager) promotionFor(ctx context.Context, s *txScope, shopID uuid.UUID, sub *models.Subscription, plan *models.Plan) (*promotions.Adjustment, bool, error) {
	if !plan.Price.IsPositive() {
		return nil, false, nil
	}
	md := &sub.Metadata
	if md.PromotionID != nil && md.PromotionCyclesRemaining > 0 {
		adj, err := s.promos.Continue(ctx, *md.PromotionID, plan.Price, s.now)
		if err != nil {
			return nil, false, err
		}
		if adj != nil {
			md.PromotionCyclesRemaining--
			return adj, false, nil
		}
	}

	adj, err := s.promos.Resolve(ctx, shopID, plan.Name, plan.Price, s.now)
	if err != nil {
		return nil, false, err
	}
	if adj == nil {
		md.PromotionID = nil
		md.PromotionCyclesRemaining = 0
		return nil, false, nil
	}
	md.PromotionID = &adj.PromotionID
	md.PromotionCyclesRemaining = adj.DurationCycles - 1
	return adj, true, nil
}
