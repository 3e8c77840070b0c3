package usage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// take computes how many of want requests a bucket covers and the credits
// they cost. Requests are bounded by both the request headroom and what the
// credit headroom pays for; a final fractional unit consumes whatever credits
// are left so a bucket never strands a balance below one unit's price.
func take(row models.ServiceUsage, want int64, fallbackRate decimal.Decimal) (int64, decimal.Decimal) {
	if want <= 0 {
		return 0, decimal.Zero
	}
	rate := row.ConversionRate
	if !rate.IsPositive() {
		rate = fallbackRate
	}

	requests := min(row.AvailableRequests(), want)
	credits := row.AvailableCredits()
	if requests <= 0 || !credits.IsPositive() {
		return 0, decimal.Zero
	}

	cost := rate.Mul(decimal.NewFromInt(requests))
	if cost.LessThanOrEqual(credits) {
		return requests, cost
	}

	affordable := credits.Div(rate).Floor().IntPart()
	if affordable <= 0 {
		return 1, credits
	}
	return affordable, rate.Mul(decimal.NewFromInt(affordable))
}

// rollWindows updates the advisory rate counters. A window restarts at the
// new value once more than its length has passed since the last update.
func rollWindows(row *models.ServiceUsage, requests, tokens int64, now time.Time) {
	var elapsed time.Duration
	fresh := row.LastTokenUsageUpdateTime == nil
	if !fresh {
		elapsed = now.Sub(*row.LastTokenUsageUpdateTime)
	}

	if fresh || elapsed > minuteWindow {
		row.TokensPerMinute = tokens
		row.RequestsPerMinute = requests
		reset := now.Add(minuteWindow)
		row.ResetTimeForMinuteRequests = &reset
	} else {
		row.TokensPerMinute += tokens
		row.RequestsPerMinute += requests
	}

	if fresh || elapsed > dayWindow {
		row.TokensPerDay = tokens
		row.RequestsPerDay = requests
		reset := now.Add(dayWindow)
		row.ResetTimeForDayRequests = &reset
	} else {
		row.TokensPerDay += tokens
		row.RequestsPerDay += requests
	}

	row.TotalTokensUsed += tokens
	stamp := now
	row.LastTokenUsageUpdateTime = &stamp
}

// apportion splits tokens across buckets in proportion to the requests each
// covered; the shares of a fully covered request always sum to tokens.
func apportion(tokens, units, coveredBefore, covered int64) int64 {
	if tokens <= 0 || units <= 0 {
		return 0
	}
	return tokens*(coveredBefore+covered)/units - tokens*coveredBefore/units
}

// usageRatio is the larger of the request and credit consumption ratios.
func usageRatio(row models.ServiceUsage) float64 {
	var ratio float64
	if row.TotalRequests > 0 {
		ratio = float64(row.TotalRequestsUsed) / float64(row.TotalRequests)
	}
	if row.TotalCredits.IsPositive() {
		credit, _ := row.TotalCreditsUsed.Div(row.TotalCredits).Float64()
		if credit > ratio {
			ratio = credit
		}
	}
	return ratio
}
