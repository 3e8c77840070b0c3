package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

// ServiceState is a snapshot of one service's counters.
type ServiceState struct {
	Service           enums.Service   `json:"service"`
	TotalRequests     int64           `json:"total_requests"`
	RequestsUsed      int64           `json:"total_requests_used"`
	RemainingRequests int64           `json:"total_remaining_requests"`
	TotalCredits      decimal.Decimal `json:"total_credits"`
	CreditsUsed       decimal.Decimal `json:"total_credits_used"`
	RemainingCredits  decimal.Decimal `json:"total_remaining_credits"`
	ConversionRate    decimal.Decimal `json:"conversion_rate,omitempty"`
	TokensUsed        int64           `json:"total_tokens_used"`
	TokensPerMinute   int64           `json:"tokens_per_minute,omitempty"`
	TokensPerDay      int64           `json:"tokens_per_day,omitempty"`
	UsagePercent      int             `json:"usage_percent"`
}

// BucketState is one bucket of the waterfall.
type BucketState struct {
	Kind      string         `json:"kind"`
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	StartDate *time.Time     `json:"start_date,omitempty"`
	EndDate   *time.Time     `json:"end_date,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Services  []ServiceState `json:"services"`
}

// State is the shop's usage across all live buckets, in spend order.
type State struct {
	ShopID       uuid.UUID      `json:"shop_id"`
	Subscription *BucketState   `json:"subscription,omitempty"`
	Packages     []BucketState  `json:"packages"`
	Totals       []ServiceState `json:"totals"`
}

// State reports counters for the current subscription and active packages.
// It runs reconciliation, so it may commit a cycle transition; the state is
// returned even when the emails of that transition fail.
func (l *Ledger) State(ctx context.Context, shopID uuid.UUID) (*State, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop is required")
	}

	var (
		state      *State
		deliveries []*notifications.Delivery
	)
	err := l.db.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		var err error
		state, deliveries, err = l.stateTx(ctx, tx, shopID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, l.notifier.DeliverAll(ctx, deliveries)
}

func (l *Ledger) stateTx(ctx context.Context, tx *gorm.DB, shopID uuid.UUID) (*State, []*notifications.Delivery, error) {
	repo := l.repo.WithTx(tx)
	state := &State{ShopID: shopID, Packages: []BucketState{}}

	sub, deliveries, err := l.subs.CurrentTx(ctx, tx, shopID)
	if err != nil {
		return nil, nil, err
	}

	totals := map[enums.Service]*ServiceState{}
	for _, service := range enums.Services {
		totals[service] = &ServiceState{Service: service, TotalCredits: decimal.Zero, CreditsUsed: decimal.Zero, RemainingCredits: decimal.Zero}
	}

	if sub != nil && sub.UsageID != nil {
		usage, err := repo.FindUsage(ctx, *sub.UsageID)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription usage")
		}
		start, end := sub.StartDate, sub.EndDate
		bucket := &BucketState{
			Kind:      BucketSubscription,
			ID:        sub.ID,
			Name:      sub.PlanName,
			Status:    sub.Status.String(),
			StartDate: &start,
			EndDate:   &end,
			CreatedAt: sub.CreatedAt,
			Services:  serviceStates(usage),
		}
		state.Subscription = bucket
		if sub.Status.IsLive() {
			accumulate(totals, bucket.Services)
		}
	}

	purchases, err := repo.ListActivePurchases(ctx, shopID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit purchases")
	}
	for _, purchase := range purchases {
		var usage *models.Usage
		if purchase.UsageID != nil {
			usage, err = repo.FindUsage(ctx, *purchase.UsageID)
			if err != nil {
				return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load package usage")
			}
		}
		bucket := BucketState{
			Kind:      BucketPackage,
			ID:        purchase.ID,
			Name:      purchase.Snapshot.PackageName,
			Status:    string(purchase.Status),
			CreatedAt: purchase.CreatedAt,
			Services:  serviceStates(usage),
		}
		accumulate(totals, bucket.Services)
		state.Packages = append(state.Packages, bucket)
	}

	for _, service := range enums.Services {
		total := totals[service]
		total.UsagePercent = percentOf(total)
		state.Totals = append(state.Totals, *total)
	}
	return state, deliveries, nil
}

func serviceStates(usage *models.Usage) []ServiceState {
	out := []ServiceState{}
	if usage == nil {
		return out
	}
	for _, row := range usage.Services {
		out = append(out, ServiceState{
			Service:           row.Service,
			TotalRequests:     row.TotalRequests,
			RequestsUsed:      row.TotalRequestsUsed,
			RemainingRequests: row.TotalRemainingRequests,
			TotalCredits:      row.TotalCredits,
			CreditsUsed:       row.TotalCreditsUsed,
			RemainingCredits:  row.TotalRemainingCredits,
			ConversionRate:    row.ConversionRate,
			TokensUsed:        row.TotalTokensUsed,
			TokensPerMinute:   row.TokensPerMinute,
			TokensPerDay:      row.TokensPerDay,
			UsagePercent:      int(usageRatio(row) * 100),
		})
	}
	return out
}

func accumulate(totals map[enums.Service]*ServiceState, services []ServiceState) {
	for _, s := range services {
		total, ok := totals[s.Service]
		if !ok {
			continue
		}
		total.TotalRequests += s.TotalRequests
		total.RequestsUsed += s.RequestsUsed
		total.RemainingRequests += s.RemainingRequests
		total.TotalCredits = total.TotalCredits.Add(s.TotalCredits)
		total.CreditsUsed = total.CreditsUsed.Add(s.CreditsUsed)
		total.RemainingCredits = total.RemainingCredits.Add(s.RemainingCredits)
		total.TokensUsed += s.TokensUsed
	}
}

func percentOf(s *ServiceState) int {
	return int(usageRatio(models.ServiceUsage{
		TotalRequests:     s.TotalRequests,
		TotalRequestsUsed: s.RequestsUsed,
		TotalCredits:      s.TotalCredits,
		TotalCreditsUsed:  s.CreditsUsed,
	}) * 100)
}
