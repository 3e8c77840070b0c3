package subscriptions

import (
	"strings"
	"time"

	"github.com/angelmondragon/meterly-backend/pkg/config"
)

const (
	defaultFreePlanName   = "FREE"
	defaultStatusDebounce = 30 * time.Minute
)

// Policy holds the lifecycle knobs. It is read-only once the manager is built.
type Policy struct {
	FreePlanName    string
	TrialNotifyDays []int
	StatusDebounce  time.Duration
	Currency        string
}

// DefaultPolicy mirrors the stock configuration.
func DefaultPolicy() Policy {
	return Policy{
		FreePlanName:    defaultFreePlanName,
		TrialNotifyDays: []int{4, 2},
		StatusDebounce:  defaultStatusDebounce,
		Currency:        "USD",
	}
}

// PolicyFromConfig builds the policy from billing configuration.
func PolicyFromConfig(cfg config.BillingConfig) (Policy, error) {
	days, err := cfg.TrialNotificationSchedule()
	if err != nil {
		return Policy{}, err
	}
	p := Policy{
		FreePlanName:    cfg.FreePlanName,
		TrialNotifyDays: days,
		StatusDebounce:  cfg.StatusDebounce,
		Currency:        cfg.Currency,
	}
	return p.normalized(), nil
}

func (p Policy) normalized() Policy {
	p.FreePlanName = strings.TrimSpace(p.FreePlanName)
	if p.FreePlanName == "" {
		p.FreePlanName = defaultFreePlanName
	}
	if p.StatusDebounce <= 0 {
		p.StatusDebounce = defaultStatusDebounce
	}
	if strings.TrimSpace(p.Currency) == "" {
		p.Currency = "USD"
	}
	return p
}

func (p Policy) isFree(planName string) bool {
	return strings.EqualFold(planName, p.FreePlanName)
}

func (p Policy) notifiesTrialAt(days int) bool {
	for _, d := range p.TrialNotifyDays {
		if d == days {
			return true
		}
	}
	return false
}

func (p Policy) maxTrialNotifyDays() int {
	longest := 0
	for _, d := range p.TrialNotifyDays {
		longest = max(longest, d)
	}
	return longest
}
