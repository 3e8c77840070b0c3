package enums

import "fmt"

// SubscriptionStatus is the lifecycle state of a shop subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending         SubscriptionStatus = "PENDING"
	SubscriptionStatusTrial           SubscriptionStatus = "TRIAL"
	SubscriptionStatusActive          SubscriptionStatus = "ACTIVE"
	SubscriptionStatusOnHold          SubscriptionStatus = "ON_HOLD"
	SubscriptionStatusFrozen          SubscriptionStatus = "FROZEN"
	SubscriptionStatusCancelled       SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired         SubscriptionStatus = "EXPIRED"
	SubscriptionStatusDeclined        SubscriptionStatus = "DECLINED"
	SubscriptionStatusTerminated      SubscriptionStatus = "TERMINATED"
	SubscriptionStatusProrateCanceled SubscriptionStatus = "PRORATE_CANCELED"
	// SubscriptionStatusRenewing only labels renewal notices; it is never stored.
	SubscriptionStatusRenewing SubscriptionStatus = "RENEWING"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusOnHold,
	SubscriptionStatusFrozen,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
	SubscriptionStatusDeclined,
	SubscriptionStatusTerminated,
	SubscriptionStatusProrateCanceled,
	SubscriptionStatusRenewing,
}

// LiveSubscriptionStatuses are the states that grant access. A shop holds at
// most one subscription in any of them.
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusOnHold,
	SubscriptionStatusTrial,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsLive reports whether the status grants access to the plan allowance.
func (s SubscriptionStatus) IsLive() bool {
	for _, candidate := range LiveSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SubscriptionStatus) IsTerminal() bool {
	switch s {
	case SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
		SubscriptionStatusDeclined,
		SubscriptionStatusTerminated,
		SubscriptionStatusProrateCanceled:
		return true
	}
	return false
}

// Persistable reports whether the status may be written to a subscription row.
func (s SubscriptionStatus) Persistable() bool {
	return s.IsValid() && s != SubscriptionStatusRenewing
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
