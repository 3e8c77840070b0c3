package enums

// CreditPurchaseStatus tracks whether a prepaid package still has balance.
type CreditPurchaseStatus string

const (
	CreditPurchaseStatusActive  CreditPurchaseStatus = "ACTIVE"
	CreditPurchaseStatusExpired CreditPurchaseStatus = "EXPIRED"
)

// IsValid reports whether the status is known.
func (s CreditPurchaseStatus) IsValid() bool {
	return s == CreditPurchaseStatusActive || s == CreditPurchaseStatusExpired
}
