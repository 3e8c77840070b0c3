package types

import (
	"database/sql/driver"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/pkg/enums"
)

// ServiceFeature holds the allowance granted for one metered service.
type ServiceFeature struct {
	RequestLimit   int64           `json:"request_limit"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	RPM            int64           `json:"rpm"`
	RPD            int64           `json:"rpd"`
	TPM            int64           `json:"tpm"`
	TPD            int64           `json:"tpd"`
}

// Normalize clamps negative limits and fills a missing conversion rate with
// fallback so callers never branch on zero values.
func (f ServiceFeature) Normalize(fallback decimal.Decimal) ServiceFeature {
	if f.RequestLimit < 0 {
		f.RequestLimit = 0
	}
	if f.CreditLimit.IsNegative() {
		f.CreditLimit = decimal.Zero
	}
	if !f.ConversionRate.IsPositive() {
		f.ConversionRate = fallback
	}
	for _, window := range []*int64{&f.RPM, &f.RPD, &f.TPM, &f.TPD} {
		if *window < 0 {
			*window = 0
		}
	}
	return f
}

// FeatureSet is the per-service allowance of a plan or credit package,
// persisted as JSONB.
type FeatureSet struct {
	AIAPI    ServiceFeature `json:"ai_api"`
	CrawlAPI ServiceFeature `json:"crawl_api"`
}

// For returns the feature for the given service.
func (f FeatureSet) For(service enums.Service) ServiceFeature {
	if service == enums.ServiceCrawlAPI {
		return f.CrawlAPI
	}
	return f.AIAPI
}

// TotalCredits sums the credit limits across services.
func (f FeatureSet) TotalCredits() decimal.Decimal {
	return f.AIAPI.CreditLimit.Add(f.CrawlAPI.CreditLimit)
}

// Value marshals the set into JSON.
func (f FeatureSet) Value() (driver.Value, error) {
	return jsonValue(f)
}

// Scan decodes JSONB into the set.
func (f *FeatureSet) Scan(value any) error {
	return scanJSON("feature set", value, f)
}
