package enums

import "fmt"

// PaymentStatus tracks the outcome of a billing event reported by the
// external confirmation flow.
type PaymentStatus string

const (
	PaymentStatusScheduled PaymentStatus = "SCHEDULED"
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusFrozen    PaymentStatus = "FROZEN"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusScheduled,
	PaymentStatusSucceeded,
	PaymentStatusFailed,
	PaymentStatusFrozen,
	PaymentStatusCancelled,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the payment status is known.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// PaymentKind names the billing event that produced a payment row.
type PaymentKind string

const (
	PaymentKindSubscribe PaymentKind = "SUBSCRIBE"
	PaymentKindRenew     PaymentKind = "RENEW"
	PaymentKindCancel    PaymentKind = "CANCEL"
)

// IsValid reports whether the payment kind is known.
func (k PaymentKind) IsValid() bool {
	switch k {
	case PaymentKindSubscribe, PaymentKindRenew, PaymentKindCancel:
		return true
	}
	return false
}
