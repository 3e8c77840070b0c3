package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// Reason classifies why a delivery failed.
type Reason string

const (
	ReasonData     Reason = "DATA_ERROR"
	ReasonTemplate Reason = "TEMPLATE_ERROR"
	ReasonSend     Reason = "SEND_ERROR"
)

// DeliveryError wraps a failed delivery with its reason.
type DeliveryError struct {
	Reason Reason
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure reason, or "" when err is not a delivery error.
func ReasonOf(err error) Reason {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// SubscriptionData feeds the subscription lifecycle email.
type SubscriptionData struct {
	ShopName  string
	PlanName  string
	Amount    string
	Currency  string
	StartDate string
	EndDate   string
	TrialDays int
	Reason    string
}

// UsageData feeds the usage alert emails.
type UsageData struct {
	ShopName          string
	Service           string
	Percent           int
	RemainingPackages []string
	PackageName       string
	Message           string
}

// Mailer renders the billing emails and hands them to a Sender.
type Mailer struct {
	sender    Sender
	templates *template.Template
}

// NewMailer parses the bundled templates.
func NewMailer(sender Sender) (*Mailer, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender required", ErrInvalidConfig)
	}
	tpl, err := template.New("email").Funcs(template.FuncMap{
		"lower": strings.ToLower,
	}).Parse(layouts)
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Mailer{sender: sender, templates: tpl}, nil
}

// SendSubscriptionEmail renders the lifecycle email for status and sends it.
func (m *Mailer) SendSubscriptionEmail(ctx context.Context, to string, data SubscriptionData, status string) error {
	if strings.TrimSpace(data.PlanName) == "" || strings.TrimSpace(status) == "" {
		return &DeliveryError{Reason: ReasonData, Err: errors.New("plan name and status are required")}
	}
	subject, ok := subscriptionSubjects[status]
	if !ok {
		subject = fmt.Sprintf("Your %s subscription was updated", data.PlanName)
	}
	return m.send(ctx, to, subject, "subscription_"+strings.ToLower(status), "subscription", map[string]any{
		"Data":   data,
		"Status": status,
	})
}

// SendUsageEmail renders the alert for a usage notification type and sends it.
func (m *Mailer) SendUsageEmail(ctx context.Context, to string, data UsageData, kind string) error {
	if strings.TrimSpace(kind) == "" {
		return &DeliveryError{Reason: ReasonData, Err: errors.New("notification type is required")}
	}
	subject, ok := usageSubjects[kind]
	if !ok {
		return &DeliveryError{Reason: ReasonTemplate, Err: fmt.Errorf("no usage template for %s", kind)}
	}
	return m.send(ctx, to, subject, strings.ToLower(kind), "usage", map[string]any{
		"Data": data,
		"Kind": kind,
	})
}

func (m *Mailer) send(ctx context.Context, to, subject, tag, name string, payload map[string]any) error {
	if !validAddress(to) {
		return &DeliveryError{Reason: ReasonData, Err: fmt.Errorf("invalid recipient %q", to)}
	}

	var body bytes.Buffer
	if err := m.templates.ExecuteTemplate(&body, name, payload); err != nil {
		return &DeliveryError{Reason: ReasonTemplate, Err: err}
	}

	err := m.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: body.String(),
		Tag:      tag,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidParams) {
			return &DeliveryError{Reason: ReasonData, Err: err}
		}
		return &DeliveryError{Reason: ReasonSend, Err: err}
	}
	return nil
}

var subscriptionSubjects = map[string]string{
	"ACTIVE":           "Your subscription is active",
	"TRIAL":            "Your free trial has started",
	"RENEWING":         "Your subscription has renewed",
	"ON_HOLD":          "Your subscription will end at the close of this cycle",
	"CANCELLED":        "Your subscription was cancelled",
	"PRORATE_CANCELED": "Your subscription was cancelled and prorated",
	"TERMINATED":       "Your subscription was terminated",
	"FROZEN":           "Your subscription is paused",
	"EXPIRED":          "Your subscription has expired",
}

var usageSubjects = map[string]string{
	"USAGE_APPROACHING_LIMIT": "You are approaching your usage limit",
	"USAGE_OVER_LIMIT":        "You have reached your usage limit",
	"PACKAGE_EXPIRED":         "A credit package has been used up",
	"SUBSCRIPTION_EXHAUSTED":  "Your subscription credits are used up",
	"TRIAL_ENDING":            "Your free trial is ending soon",
	"TRIAL_ENDED":             "Your free trial has ended",
	"SUBSCRIPTION_EXPIRED":    "Your subscription has expired",
	"CREDIT_PURCHASE":         "Your credit package is ready",
}

const layouts = `
{{define "subscription"}}<html><body>
<p>Hi {{.Data.ShopName}},</p>
{{if eq .Status "TRIAL"}}<p>Your {{.Data.TrialDays}}-day trial of the {{.Data.PlanName}} plan has started. It ends on {{.Data.EndDate}}.</p>
{{else if eq .Status "RENEWING"}}<p>Your {{.Data.PlanName}} plan renewed for {{.Data.Amount}} {{.Data.Currency}}. The new cycle runs until {{.Data.EndDate}}.</p>
{{else if eq .Status "ON_HOLD"}}<p>Your {{.Data.PlanName}} plan stays available until {{.Data.EndDate}} and will not renew.</p>
{{else if eq .Status "FROZEN"}}<p>Your {{.Data.PlanName}} plan is paused.</p>
{{else}}<p>Your {{.Data.PlanName}} plan is now {{lower .Status}}.{{if .Data.Amount}} Amount: {{.Data.Amount}} {{.Data.Currency}}.{{end}}</p>
{{end}}{{if .Data.Reason}}<p>Reason: {{.Data.Reason}}</p>{{end}}
</body></html>{{end}}
{{define "usage"}}<html><body>
<p>Hi {{.Data.ShopName}},</p>
{{if eq .Kind "USAGE_APPROACHING_LIMIT"}}<p>You have used {{.Data.Percent}}% of your {{.Data.Service}} allowance.</p>
{{else if eq .Kind "USAGE_OVER_LIMIT"}}<p>You have used all of your {{.Data.Service}} allowance.</p>
{{else if eq .Kind "PACKAGE_EXPIRED"}}<p>The credit package {{.Data.PackageName}} is used up.</p>
{{if .Data.RemainingPackages}}<p>Remaining packages:</p><ul>{{range .Data.RemainingPackages}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>You have no remaining credit packages.</p>{{end}}
{{else if eq .Kind "SUBSCRIPTION_EXHAUSTED"}}<p>Your subscription {{.Data.Service}} credits are used up. Further usage draws from credit packages.</p>
{{else if eq .Kind "CREDIT_PURCHASE"}}<p>The credit package {{.Data.PackageName}} was added to your account.</p>
{{else}}<p>{{.Data.Message}}</p>
{{end}}
</body></html>{{end}}
`
