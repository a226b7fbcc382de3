package auth

import (
	"context"

	"hoa-portal/internal/observability"
)

// Mailer delivers sign-in links. Delivery itself lives outside this service.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// LogMailer writes the link to the log instead of sending mail. The link is
// only included outside production.
type LogMailer struct {
	logger      *observability.Logger
	includeLink bool
}

func NewLogMailer(logger *observability.Logger, environment string) *LogMailer {
	return &LogMailer{logger: logger, includeLink: environment != "production"}
}

func (m *LogMailer) SendMagicLink(ctx context.Context, email, link string) error {
	fields := map[string]any{"email": email}
	if m.includeLink {
		fields["link"] = link
	}
	m.logger.Info("magic_link_issued", fields)
	return nil
}
