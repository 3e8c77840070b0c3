package usage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

func row(requests, used int64, credits, creditsUsed, rate string) models.ServiceUsage {
	r := models.ServiceUsage{
		TotalRequests:     requests,
		TotalRequestsUsed: used,
		TotalCredits:      decimal.RequireFromString(credits),
		TotalCreditsUsed:  decimal.RequireFromString(creditsUsed),
		ConversionRate:    decimal.RequireFromString(rate),
	}
	r.Normalize()
	return r
}

func TestTake(t *testing.T) {
	one := decimal.NewFromInt(1)
	cases := []struct {
		name         string
		row          models.ServiceUsage
		want         int64
		wantRequests int64
		wantCredits  string
	}{
		{"fits", row(100, 0, "10", "0", "0.1"), 50, 50, "5"},
		{"request bound", row(5, 0, "100", "0", "1"), 12, 5, "5"},
		{"credit bound", row(100, 0, "5", "0", "1"), 12, 5, "5"},
		{"leftover fraction", row(100, 0, "0.5", "0", "1"), 3, 1, "0.5"},
		{"no requests left", row(5, 5, "10", "0", "1"), 3, 0, "0"},
		{"no credits left", row(5, 0, "10", "10", "1"), 3, 0, "0"},
		{"fallback rate", row(10, 0, "10", "0", "0"), 4, 4, "4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requests, credits := take(tc.row, tc.want, one)
			if requests != tc.wantRequests {
				t.Fatalf("requests = %d, want %d", requests, tc.wantRequests)
			}
			if !credits.Equal(decimal.RequireFromString(tc.wantCredits)) {
				t.Fatalf("credits = %s, want %s", credits, tc.wantCredits)
			}
		})
	}
}

func TestApportion(t *testing.T) {
	total := apportion(100, 3, 0, 1) + apportion(100, 3, 1, 1) + apportion(100, 3, 2, 1)
	if total != 100 {
		t.Fatalf("shares sum to %d, want 100", total)
	}
	if got := apportion(0, 3, 0, 3); got != 0 {
		t.Fatalf("expected no tokens, got %d", got)
	}
}

func TestRollWindows_DayWindowOutlivesMinute(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := row(10, 0, "10", "0", "1")

	rollWindows(&r, 1, 10, now)
	rollWindows(&r, 1, 10, now.Add(5*time.Minute))
	if r.TokensPerMinute != 10 || r.TokensPerDay != 20 {
		t.Fatalf("unexpected windows minute=%d day=%d", r.TokensPerMinute, r.TokensPerDay)
	}
	rollWindows(&r, 1, 10, now.Add(26*time.Hour))
	if r.TokensPerDay != 10 || r.RequestsPerDay != 1 {
		t.Fatalf("expected day window reset, got tokens=%d requests=%d", r.TokensPerDay, r.RequestsPerDay)
	}
	if r.TotalTokensUsed != 30 {
		t.Fatalf("expected 30 total tokens, got %d", r.TotalTokensUsed)
	}
}
