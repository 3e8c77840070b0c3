package email

import (
	"context"

	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// LogSender writes messages to the structured log instead of sending them.
// Used when Postmark is not configured.
type LogSender struct {
	logg *logger.Logger
}

func NewLogSender(logg *logger.Logger) *LogSender {
	return &LogSender{logg: logg}
}

func (s *LogSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if s.logg == nil {
		return nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"email_to":      params.SendTo,
		"email_subject": params.Subject,
		"email_tag":     params.Tag,
	})
	s.logg.Info(ctx, "email suppressed: no postmark credentials")
	return nil
}
