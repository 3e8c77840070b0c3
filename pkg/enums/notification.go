package enums

import "fmt"

// NotificationType classifies shop notifications. It doubles as the dedup key
// prefix for the notification log.
type NotificationType string

const (
	NotificationTypeUsageApproachingLimit NotificationType = "USAGE_APPROACHING_LIMIT"
	NotificationTypeUsageOverLimit        NotificationType = "USAGE_OVER_LIMIT"
	NotificationTypePackageExpired        NotificationType = "PACKAGE_EXPIRED"
	NotificationTypeSubscriptionExhausted NotificationType = "SUBSCRIPTION_EXHAUSTED"
	NotificationTypeSubscriptionExpired   NotificationType = "SUBSCRIPTION_EXPIRED"
	NotificationTypeTrialEnding           NotificationType = "TRIAL_ENDING"
	NotificationTypeTrialEnded            NotificationType = "TRIAL_ENDED"
	NotificationTypeSubscriptionUpdate    NotificationType = "SUBSCRIPTION_UPDATE"
	NotificationTypeCreditPurchase        NotificationType = "CREDIT_PURCHASE"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeUsageApproachingLimit,
	NotificationTypeUsageOverLimit,
	NotificationTypePackageExpired,
	NotificationTypeSubscriptionExhausted,
	NotificationTypeSubscriptionExpired,
	NotificationTypeTrialEnding,
	NotificationTypeTrialEnded,
	NotificationTypeSubscriptionUpdate,
	NotificationTypeCreditPurchase,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// IsUsage reports whether the notification is rendered with the usage email.
func (n NotificationType) IsUsage() bool {
	switch n {
	case NotificationTypeUsageApproachingLimit,
		NotificationTypeUsageOverLimit,
		NotificationTypePackageExpired,
		NotificationTypeSubscriptionExhausted:
		return true
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
