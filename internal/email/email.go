package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs emails instead of sending them. Used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.InfoContext(ctx, "email (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends emails via the Resend API in staging and production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger.With("component", "email")}
	}
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

const MagicLinkSubject = "Your Prospect Portal sign-in link"

var magicLinkTmpl = template.Must(template.New("magic_link").Parse(
	`<p>Hi{{if .FirstName}} {{.FirstName}}{{end}},</p>` +
		`<p>Click the link below to sign in to the Prospect Portal. It expires in {{.Hours}} hours.</p>` +
		`<p><a href="{{.Link}}">{{.Link}}</a></p>` +
		`<p>If you did not ask for this link you can ignore this email.</p>`,
))

// MagicLinkBody renders the HTML body of a sign-in email.
func MagicLinkBody(firstName, link string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := magicLinkTmpl.Execute(&buf, struct {
		FirstName string
		Link      string
		Hours     int
	}{firstName, link, int(ttl.Hours())})
	if err != nil {
		return "", fmt.Errorf("render magic link email: %w", err)
	}
	return buf.String(), nil
}
