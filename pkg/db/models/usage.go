package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

// Usage groups the per-service counters of one bucket: a subscription or a
// credit purchase.
type Usage struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"`
	ShopID           uuid.UUID      `gorm:"column:shop_id;type:uuid;not null;index"`
	SubscriptionID   *uuid.UUID     `gorm:"column:subscription_id;type:uuid;index"`
	CreditPurchaseID *uuid.UUID     `gorm:"column:credit_purchase_id;type:uuid;index"`
	Services         []ServiceUsage `gorm:"foreignKey:UsageID"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *Usage) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// Service returns the counters for the given service, if loaded.
func (u *Usage) Service(service enums.Service) *ServiceUsage {
	for i := range u.Services {
		if u.Services[i].Service == service {
			return &u.Services[i]
		}
	}
	return nil
}

// ServiceUsage holds the mutable counters for one service inside a bucket.
// Used plus remaining always equals granted, for both requests and credits.
type ServiceUsage struct {
	ID      uuid.UUID     `gorm:"type:uuid;primaryKey"`
	UsageID uuid.UUID     `gorm:"column:usage_id;type:uuid;not null;uniqueIndex:idx_service_usage_usage_service"`
	Service enums.Service `gorm:"column:service;type:text;not null;uniqueIndex:idx_service_usage_usage_service"`

	TotalRequests          int64 `gorm:"column:total_requests;not null;default:0"`
	TotalRequestsUsed      int64 `gorm:"column:total_requests_used;not null;default:0"`
	TotalRemainingRequests int64 `gorm:"column:total_remaining_requests;not null;default:0"`

	TotalCredits          decimal.Decimal `gorm:"column:total_credits;type:numeric(18,6);not null"`
	TotalCreditsUsed      decimal.Decimal `gorm:"column:total_credits_used;type:numeric(18,6);not null"`
	TotalRemainingCredits decimal.Decimal `gorm:"column:total_remaining_credits;type:numeric(18,6);not null"`
	ConversionRate        decimal.Decimal `gorm:"column:conversion_rate;type:numeric(18,6);not null"`

	TotalTokensUsed   int64 `gorm:"column:total_tokens_used;not null;default:0"`
	TokensPerMinute   int64 `gorm:"column:tokens_per_minute;not null;default:0"`
	TokensPerDay      int64 `gorm:"column:tokens_per_day;not null;default:0"`
	RequestsPerMinute int64 `gorm:"column:requests_per_minute;not null;default:0"`
	RequestsPerDay    int64 `gorm:"column:requests_per_day;not null;default:0"`

	LastTokenUsageUpdateTime   *time.Time `gorm:"column:last_token_usage_update_time"`
	ResetTimeForMinuteRequests *time.Time `gorm:"column:reset_time_for_minute_requests"`
	ResetTimeForDayRequests    *time.Time `gorm:"column:reset_time_for_day_requests"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *ServiceUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// NewServiceUsage seeds zeroed counters from a feature allowance.
func NewServiceUsage(usageID uuid.UUID, service enums.Service, feature types.ServiceFeature) ServiceUsage {
	return ServiceUsage{
		UsageID:                usageID,
		Service:                service,
		TotalRequests:          feature.RequestLimit,
		TotalRemainingRequests: feature.RequestLimit,
		TotalCredits:           feature.CreditLimit,
		TotalCreditsUsed:       decimal.Zero,
		TotalRemainingCredits:  feature.CreditLimit,
		ConversionRate:         feature.ConversionRate,
	}
}

// Normalize recomputes remaining counters from granted and used so a row
// loaded with missing or drifted values satisfies the balance invariant.
func (s *ServiceUsage) Normalize() {
	if s.TotalRequests < 0 {
		s.TotalRequests = 0
	}
	if s.TotalRequestsUsed < 0 {
		s.TotalRequestsUsed = 0
	}
	s.TotalRemainingRequests = s.TotalRequests - s.TotalRequestsUsed
	if s.TotalCredits.IsNegative() {
		s.TotalCredits = decimal.Zero
	}
	if s.TotalCreditsUsed.IsNegative() {
		s.TotalCreditsUsed = decimal.Zero
	}
	s.TotalRemainingCredits = s.TotalCredits.Sub(s.TotalCreditsUsed)
}

// AvailableRequests returns the request headroom, never negative.
func (s ServiceUsage) AvailableRequests() int64 {
	if avail := s.TotalRequests - s.TotalRequestsUsed; avail > 0 {
		return avail
	}
	return 0
}

// AvailableCredits returns the credit headroom, never negative.
func (s ServiceUsage) AvailableCredits() decimal.Decimal {
	avail := s.TotalCredits.Sub(s.TotalCreditsUsed)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Consume applies a deduction. Callers are expected to have bounded both
// amounts by the available headroom.
func (s *ServiceUsage) Consume(requests int64, credits decimal.Decimal) {
	s.TotalRequestsUsed += requests
	s.TotalRemainingRequests = s.TotalRequests - s.TotalRequestsUsed
	s.TotalCreditsUsed = s.TotalCreditsUsed.Add(credits)
	s.TotalRemainingCredits = s.TotalCredits.Sub(s.TotalCreditsUsed)
}

// Reset zeroes the used counters and re-grants the allowance for a new cycle.
func (s *ServiceUsage) Reset(feature types.ServiceFeature) {
	s.TotalRequests = feature.RequestLimit
	s.TotalRequestsUsed = 0
	s.TotalRemainingRequests = feature.RequestLimit
	s.TotalCredits = feature.CreditLimit
	s.TotalCreditsUsed = decimal.Zero
	s.TotalRemainingCredits = feature.CreditLimit
	s.ConversionRate = feature.ConversionRate
	s.TotalTokensUsed = 0
	s.TokensPerMinute = 0
	s.TokensPerDay = 0
	s.RequestsPerMinute = 0
	s.RequestsPerDay = 0
	s.LastTokenUsageUpdateTime = nil
	s.ResetTimeForMinuteRequests = nil
	s.ResetTimeForDayRequests = nil
}

// CheckBalance verifies used plus remaining equals granted.
func (s ServiceUsage) CheckBalance() error {
	if s.TotalRequestsUsed+s.TotalRemainingRequests != s.TotalRequests {
		return fmt.Errorf("service usage %s: requests %d + %d != %d", s.Service, s.TotalRequestsUsed, s.TotalRemainingRequests, s.TotalRequests)
	}
	if !s.TotalCreditsUsed.Add(s.TotalRemainingCredits).Equal(s.TotalCredits) {
		return fmt.Errorf("service usage %s: credits %s + %s != %s", s.Service, s.TotalCreditsUsed, s.TotalRemainingCredits, s.TotalCredits)
	}
	return nil
}
