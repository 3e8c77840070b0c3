package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

// StatusInput requests an explicit status change. CANCELLED without Prorate
// keeps access until the end of the cycle (ON_HOLD).
type StatusInput struct {
	// ShopID scopes the lookup when set; another shop's subscription is
	// reported as not found.
	ShopID                uuid.UUID
	SubscriptionID        uuid.UUID
	Status                enums.SubscriptionStatus
	Reason                string
	Prorate               bool
	ExternalTransactionID string
	Recipient             string
}

// CancelInput cancels the shop's live subscription.
type CancelInput struct {
	ShopID    uuid.UUID
	Reason    string
	Prorate   bool
	Recipient string
}

// UpdateStatus applies an explicit status to a subscription.
func (m *Manager) UpdateStatus(ctx context.Context, in StatusInput) (*Outcome, error) {
	if in.SubscriptionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "subscription id is required")
	}
	if !in.Status.Persistable() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q cannot be applied", in.Status))
	}
	if m.logg != nil {
		ctx = m.logg.WithSubscriptionID(ctx, in.SubscriptionID.String())
	}

	var out *Outcome
	err := m.run(ctx, func(s *txScope) error {
		sub, err := s.repo.FindByID(ctx, in.SubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if sub == nil || (in.ShopID != uuid.Nil && sub.ShopID != in.ShopID) {
			return pkgerrors.New(pkgerrors.CodeSubscriptionNotFound, "subscription not found")
		}
		ext := strings.TrimSpace(in.ExternalTransactionID)
		if ext != "" && sub.ExternalTransactionID != nil && *sub.ExternalTransactionID != ext {
			return pkgerrors.New(pkgerrors.CodeSubscriptionIDMismatch, "external transaction does not belong to this subscription")
		}
		out, err = m.transition(ctx, s, sub, in)
		return err
	})
	return settle(out, err)
}

// Cancel ends the shop's live subscription, at the end of the cycle or
// immediately with a prorated refund.
func (m *Manager) Cancel(ctx context.Context, in CancelInput) (*Outcome, error) {
	if err := requireShop(in.ShopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, in.ShopID, "cancel")

	var out *Outcome
	err := m.run(ctx, func(s *txScope) error {
		sub, err := m.paidLive(ctx, s, in.ShopID, "cancelled")
		if err != nil {
			return err
		}
		out, err = m.transition(ctx, s, sub, StatusInput{
			SubscriptionID: sub.ID,
			Status:         enums.SubscriptionStatusCancelled,
			Reason:         in.Reason,
			Prorate:        in.Prorate,
			Recipient:      in.Recipient,
		})
		return err
	})
	return settle(out, err)
}

// Freeze pauses the live subscription and its pending charge.
func (m *Manager) Freeze(ctx context.Context, shopID uuid.UUID, recipient string) (*Outcome, error) {
	if err := requireShop(shopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, shopID, "freeze")

	var out *Outcome
	err := m.run(ctx, func(s *txScope) error {
		sub, err := m.paidLive(ctx, s, shopID, "frozen")
		if err != nil {
			return err
		}
		out, err = m.transition(ctx, s, sub, StatusInput{
			SubscriptionID: sub.ID,
			Status:         enums.SubscriptionStatusFrozen,
			Recipient:      recipient,
		})
		return err
	})
	return settle(out, err)
}

// Unfreeze restores the most recently frozen subscription to the status it
// held before the freeze. A FREE default created meanwhile is cancelled.
func (m *Manager) Unfreeze(ctx context.Context, shopID uuid.UUID, recipient string) (*Outcome, error) {
	if err := requireShop(shopID); err != nil {
		return nil, err
	}
	ctx = m.logContext(ctx, shopID, "unfreeze")

	var out *Outcome
	err := m.run(ctx, func(s *txScope) error {
		sub, err := s.repo.FindLatestWithStatus(ctx, shopID, enums.SubscriptionStatusFrozen)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load frozen subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeSubscriptionNotFound, "no frozen subscription")
		}
		target := enums.SubscriptionStatus(sub.Metadata.FrozenFrom)
		if !target.IsLive() {
			target = enums.SubscriptionStatusActive
		}
		out, err = m.transition(ctx, s, sub, StatusInput{
			SubscriptionID: sub.ID,
			Status:         target,
			Recipient:      recipient,
		})
		return err
	})
	return settle(out, err)
}

func (m *Manager) paidLive(ctx context.Context, s *txScope, shopID uuid.UUID, verb string) (*models.Subscription, error) {
	sub, err := s.live(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeSubscriptionNotFound, "no live subscription")
	}
	if m.policy.isFree(sub.PlanName) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("the %s plan cannot be %s", sub.PlanName, verb))
	}
	return sub, nil
}

// transition is the single place a subscription's status changes on request.
func (m *Manager) transition(ctx context.Context, s *txScope, sub *models.Subscription, in StatusInput) (*Outcome, error) {
	now := s.now
	if sub.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyTerminated, "subscription already terminated").
			WithDetails(map[string]any{"status": sub.Status.String()})
	}

	target := in.Status
	if target == enums.SubscriptionStatusCancelled && !in.Prorate {
		target = enums.SubscriptionStatusOnHold
	}
	if target == enums.SubscriptionStatusProrateCanceled {
		in.Prorate = true
	}
	if sub.Status == target && now.Sub(sub.StatusChangedAt) < m.policy.StatusDebounce {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateStatusUpdate, "status was just set").
			WithDetails(map[string]any{"status": target.String()})
	}

	shop, err := s.shop(ctx, sub.ShopID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plan(ctx, sub.PlanName)
	if err != nil {
		return nil, err
	}

	var payment *models.Payment
	switch {
	case in.Prorate && (target == enums.SubscriptionStatusCancelled || target == enums.SubscriptionStatusProrateCanceled):
		if payment, err = m.prorate(ctx, s, sub, plan); err != nil {
			return nil, err
		}
		sub.CanceledAt = &now
		sub.CancelReason = optionalString(in.Reason)
	case target == enums.SubscriptionStatusOnHold && in.Status == enums.SubscriptionStatusCancelled:
		sub.Status = enums.SubscriptionStatusOnHold
		sub.CanceledAt = &now
		sub.CancelReason = optionalString(in.Reason)
	case target == enums.SubscriptionStatusFrozen:
		if err := m.freeze(ctx, s, sub); err != nil {
			return nil, err
		}
	case sub.Status == enums.SubscriptionStatusFrozen:
		if err := m.thaw(ctx, s, sub, target); err != nil {
			return nil, err
		}
	default:
		if target.IsLive() && !sub.Status.IsLive() {
			if err := m.clearFreeDefault(ctx, s, sub); err != nil {
				return nil, err
			}
		}
		sub.Status = target
		if target.IsTerminal() {
			sub.CanceledAt = &now
			sub.CancelReason = optionalString(in.Reason)
			if sub.EndDate.After(now) {
				sub.EndDate = maxTime(now, sub.StartDate)
			}
		}
	}
	sub.StatusChangedAt = now

	if err := s.save(ctx, sub); err != nil {
		return nil, err
	}
	if err := m.notifyStatus(ctx, s, shop, sub, plan, payment, in.Recipient, sub.Status.String()); err != nil {
		return nil, err
	}
	return &Outcome{Subscription: sub, Payment: payment}, nil
}

// prorate cancels immediately. A paid cycle that has not ended is refunded
// for the remaining share of the promotion-adjusted amount; a cycle already
// past its end is terminated without refund.
func (m *Manager) prorate(ctx context.Context, s *txScope, sub *models.Subscription, plan *models.Plan) (*models.Payment, error) {
	now := s.now
	if now.After(sub.EndDate) {
		sub.Status = enums.SubscriptionStatusTerminated
		return nil, nil
	}

	basis, err := s.repo.LatestPayment(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if basis == nil && plan.Price.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotFound, "no payment to prorate")
	}

	cycleStart, cycleEnd := sub.StartDate, sub.EndDate
	sub.Status = enums.SubscriptionStatusProrateCanceled
	sub.EndDate = maxTime(now, sub.StartDate)
	if basis == nil {
		return nil, nil
	}

	switch basis.Status {
	case enums.PaymentStatusSucceeded:
	case enums.PaymentStatusScheduled, enums.PaymentStatusFrozen:
		basis.Status = enums.PaymentStatusCancelled
		if err := s.repo.SavePayment(ctx, basis); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending payment")
		}
		return nil, nil
	default:
		return nil, nil
	}

	refund := refundFor(basis.AdjustedAmount, cycleStart, cycleEnd, now)
	basis.AdjustedAmount = basis.AdjustedAmount.Sub(refund)
	if err := s.repo.SavePayment(ctx, basis); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "downgrade payment")
	}

	credit := &models.Payment{
		ShopID:             sub.ShopID,
		SubscriptionID:     sub.ID,
		Kind:               enums.PaymentKindCancel,
		Amount:             refund,
		AdjustedAmount:     refund,
		Currency:           basis.Currency,
		Status:             enums.PaymentStatusSucceeded,
		BillingPeriodStart: now,
		BillingPeriodEnd:   cycleEnd,
		CreatedAt:          now,
	}
	if err := s.repo.CreatePayment(ctx, credit); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record proration")
	}
	return basis, nil
}

func (m *Manager) freeze(ctx context.Context, s *txScope, sub *models.Subscription) error {
	if !sub.Status.IsLive() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a live subscription can be frozen")
	}
	sub.Metadata.FrozenFrom = sub.Status.String()
	sub.Status = enums.SubscriptionStatusFrozen
	return m.movePending(ctx, s, sub, enums.PaymentStatusScheduled, enums.PaymentStatusFrozen)
}

func (m *Manager) thaw(ctx context.Context, s *txScope, sub *models.Subscription, target enums.SubscriptionStatus) error {
	if target.IsLive() {
		if err := m.clearFreeDefault(ctx, s, sub); err != nil {
			return err
		}
	}
	sub.Metadata.FrozenFrom = ""
	sub.Status = target
	return m.movePending(ctx, s, sub, enums.PaymentStatusFrozen, enums.PaymentStatusScheduled)
}

func (m *Manager) movePending(ctx context.Context, s *txScope, sub *models.Subscription, from, to enums.PaymentStatus) error {
	payment, err := s.repo.LatestPaymentWithStatus(ctx, sub.ID, from)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending payment")
	}
	if payment == nil {
		return nil
	}
	payment.Status = to
	if err := s.repo.SavePayment(ctx, payment); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update pending payment")
	}
	return nil
}

// clearFreeDefault makes room for sub to become live again. Only a FREE
// default may be displaced.
func (m *Manager) clearFreeDefault(ctx context.Context, s *txScope, sub *models.Subscription) error {
	live, err := s.live(ctx, sub.ShopID)
	if err != nil || live == nil || live.ID == sub.ID {
		return err
	}
	if !m.policy.isFree(live.PlanName) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "shop already has a live subscription").
			WithDetails(map[string]any{"subscription_id": live.ID.String()})
	}
	reason := fmt.Sprintf("restored %s", sub.PlanName)
	if _, err := s.repo.CancelLive(ctx, sub.ShopID, reason, s.now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel free default")
	}
	return nil
}

// refundFor returns the share of amount covering the rest of the cycle.
func refundFor(amount decimal.Decimal, start, end, now time.Time) decimal.Decimal {
	total := end.Sub(start)
	remaining := end.Sub(now)
	if total <= 0 || remaining <= 0 {
		return decimal.Zero
	}
	if remaining > total {
		remaining = total
	}
	ratio := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(total)))
	return amount.Mul(ratio).Round(2)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
