package types

import (
	"database/sql/driver"

	"github.com/shopspring/decimal"
)

// PurchaseSnapshot freezes a credit package definition at purchase time.
type PurchaseSnapshot struct {
	PackageName  string          `json:"package_name"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	Features     FeatureSet      `json:"features"`
}

// Value marshals the snapshot into JSON.
func (s PurchaseSnapshot) Value() (driver.Value, error) {
	return jsonValue(s)
}

// Scan decodes JSONB into the snapshot.
func (s *PurchaseSnapshot) Scan(value any) error {
	return scanJSON("purchase snapshot", value, s)
}
