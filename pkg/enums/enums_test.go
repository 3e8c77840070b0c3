package enums

import "testing"

func TestSubscriptionStatusClassification(t *testing.T) {
	for _, status := range []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusOnHold, SubscriptionStatusTrial} {
		if !status.IsLive() {
			t.Fatalf("%s should be live", status)
		}
		if status.IsTerminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
	for _, status := range []SubscriptionStatus{
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
		SubscriptionStatusDeclined,
		SubscriptionStatusTerminated,
		SubscriptionStatusProrateCanceled,
	} {
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
		if status.IsLive() {
			t.Fatalf("%s should not be live", status)
		}
	}
	if SubscriptionStatusFrozen.IsLive() || SubscriptionStatusFrozen.IsTerminal() {
		t.Fatal("frozen is neither live nor terminal")
	}
	if SubscriptionStatusRenewing.Persistable() {
		t.Fatal("renewing must not be persisted")
	}
	if !SubscriptionStatusPending.Persistable() {
		t.Fatal("pending should be persistable")
	}
}

func TestParseSubscriptionStatus(t *testing.T) {
	status, err := ParseSubscriptionStatus("PRORATE_CANCELED")
	if err != nil || status != SubscriptionStatusProrateCanceled {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
	if _, err := ParseSubscriptionStatus("active"); err == nil {
		t.Fatal("expected case-sensitive parse to fail")
	}
}

func TestServiceHelpers(t *testing.T) {
	if !ServiceAIAPI.TracksTokens() || ServiceCrawlAPI.TracksTokens() {
		t.Fatal("only the AI service tracks tokens")
	}
	if _, err := ParseService("IMAGE_API"); err == nil {
		t.Fatal("expected unknown service to fail")
	}
}

func TestNotificationTypeUsageClassification(t *testing.T) {
	if !NotificationTypeUsageOverLimit.IsUsage() {
		t.Fatal("over limit is a usage notification")
	}
	if NotificationTypeTrialEnding.IsUsage() {
		t.Fatal("trial ending is a subscription notification")
	}
}
