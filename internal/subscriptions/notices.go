package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/email"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

const dateLayout = "2006-01-02"

// notifyStatus records a SUBSCRIPTION_UPDATE for every explicit lifecycle
// change. Label is the status shown to the merchant and may be RENEWING.
func (m *Manager) notifyStatus(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, plan *models.Plan, payment *models.Payment, recipient, label string) error {
	data := email.SubscriptionData{
		ShopName:  shop.Name,
		PlanName:  sub.PlanName,
		Currency:  plan.Currency,
		Amount:    plan.Price.StringFixed(2),
		StartDate: sub.StartDate.Format(dateLayout),
		EndDate:   sub.EndDate.Format(dateLayout),
		TrialDays: sub.Metadata.TrialDays,
	}
	if payment != nil {
		data.Amount = payment.AdjustedAmount.StringFixed(2)
	}
	if sub.CancelReason != nil {
		data.Reason = *sub.CancelReason
	}

	return m.notify(ctx, s, notifications.Input{
		ShopID:  shop.ID,
		Type:    enums.NotificationTypeSubscriptionUpdate,
		Title:   fmt.Sprintf("%s plan %s", sub.PlanName, humanStatus(label)),
		Message: fmt.Sprintf("Your %s subscription is %s until %s.", sub.PlanName, humanStatus(label), data.EndDate),
		Metadata: types.JSONMap{
			"subscription_id": sub.ID.String(),
			"plan_name":       sub.PlanName,
			"status":          label,
		},
		Force:        true,
		Recipient:    recipient,
		Subscription: &notifications.SubscriptionEmail{Data: data, Status: label},
	})
}

func (m *Manager) notifyTrialEnding(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription, days int) error {
	msg := fmt.Sprintf("Your %s trial ends in %d day(s).", sub.PlanName, days)
	return m.notify(ctx, s, notifications.Input{
		ShopID:  shop.ID,
		Type:    enums.NotificationTypeTrialEnding,
		Title:   "Trial ending soon",
		Message: msg,
		Metadata: types.JSONMap{
			"subscription_id": sub.ID.String(),
			"days_remaining":  days,
		},
		DedupKeys: []string{"subscription_id", "days_remaining"},
		Usage:     &email.UsageData{ShopName: shop.Name, Message: msg},
	})
}

func (m *Manager) notifyTrialEnded(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription) error {
	msg := fmt.Sprintf("Your %s trial has ended and the first paid cycle has started.", sub.PlanName)
	return m.notify(ctx, s, notifications.Input{
		ShopID:    shop.ID,
		Type:      enums.NotificationTypeTrialEnded,
		Title:     "Trial ended",
		Message:   msg,
		Metadata:  types.JSONMap{"subscription_id": sub.ID.String()},
		DedupKeys: []string{"subscription_id"},
		Usage:     &email.UsageData{ShopName: shop.Name, Message: msg},
	})
}

func (m *Manager) notifyExpired(ctx context.Context, s *txScope, shop *models.Shop, sub *models.Subscription) error {
	msg := fmt.Sprintf("Your %s subscription has ended. The shop is back on the %s plan.", sub.PlanName, m.policy.FreePlanName)
	return m.notify(ctx, s, notifications.Input{
		ShopID:    shop.ID,
		Type:      enums.NotificationTypeSubscriptionExpired,
		Title:     "Subscription expired",
		Message:   msg,
		Metadata:  types.JSONMap{"subscription_id": sub.ID.String(), "plan_name": sub.PlanName},
		DedupKeys: []string{"subscription_id"},
		Usage:     &email.UsageData{ShopName: shop.Name, Message: msg},
	})
}

func humanStatus(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, "_", " "))
}
