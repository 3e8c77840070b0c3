package usage

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/internal/notifications"
	"github.com/angelmondragon/meterly-backend/pkg/config"
)

// Policy holds the metering constants. It is built once from config and
// never mutated.
type Policy struct {
	Thresholds            notifications.Thresholds
	DefaultConversionRate decimal.Decimal
}

// DefaultPolicy charges one credit per request and alerts at 80% and 100%.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:            notifications.Thresholds{Approaching: 0.8, OverLimit: 1.0},
		DefaultConversionRate: decimal.NewFromInt(1),
	}
}

// PolicyFromConfig overlays the billing config on the defaults.
func PolicyFromConfig(cfg config.BillingConfig) Policy {
	p := DefaultPolicy()
	if cfg.ApproachingThreshold > 0 {
		p.Thresholds.Approaching = cfg.ApproachingThreshold
	}
	if cfg.OverLimitThreshold > 0 {
		p.Thresholds.OverLimit = cfg.OverLimitThreshold
	}
	return p
}

func (p Policy) normalized() Policy {
	if !p.DefaultConversionRate.IsPositive() {
		p.DefaultConversionRate = decimal.NewFromInt(1)
	}
	return p
}
