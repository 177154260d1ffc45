// Package email delivers digests and subscription emails through a
// pluggable provider.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"medreg-notifier/pkg/medreg"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with HTML and plain-text alternatives.
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Sender sends digest and subscription emails using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	baseURL  string // For links in emails
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, baseURL string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		baseURL:  baseURL,
	}
}

// SendDigest delivers one assembled digest to its recipient.
func (s *Sender) SendDigest(ctx context.Context, payload *medreg.DigestPayload) error {
	s.logger.Info("Sending digest email",
		"to", payload.Recipient.Email,
		"subject", payload.Title,
		"entry_count", len(payload.Entries))

	return s.provider.Send(ctx, payload.Recipient.Email, payload.Title, payload.HTMLBody, payload.TextBody)
}

// SendWelcome sends a confirmation email when a recipient first subscribes.
func (s *Sender) SendWelcome(ctx context.Context, rcpt *medreg.Recipient) error {
	subject := "Regulatory Monitor Subscription Confirmed"
	htmlBody, textBody := s.formatWelcomeBody(rcpt)

	s.logger.Info("Sending welcome email", "to", rcpt.Email)

	return s.provider.Send(ctx, rcpt.Email, subject, htmlBody, textBody)
}

func (s *Sender) formatWelcomeBody(rcpt *medreg.Recipient) (html, text string) {
	unsubscribeURL := fmt.Sprintf("%s/unsubscribe?token=%s", s.baseURL, url.QueryEscape(rcpt.Token))

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2c5f8a; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".content { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 15px 0; }\n")
	b.WriteString(".footer { margin-top: 20px; padding-top: 10px; border-top: 2px solid #ecf0f1; color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString("a { color: #2c5f8a; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString("<h2>Regulatory Monitor Subscription Confirmed</h2>\n")
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"content\">\n")
	name := rcpt.Name
	if name == "" {
		name = rcpt.Email
	}
	b.WriteString(fmt.Sprintf("<p>Hello %s,</p>\n", escapeHTML(name)))
	b.WriteString("<p>You are now subscribed to periodic digests of regulatory changes from the monitored agency sources.</p>\n")
	if len(rcpt.Interests) > 0 {
		b.WriteString(fmt.Sprintf("<p>Your digests will be filtered to: <strong>%s</strong></p>\n", escapeHTML(strings.Join(rcpt.Interests, ", "))))
	} else {
		b.WriteString("<p>You will receive all detected changes. You can narrow your digest to specific topics at any time.</p>\n")
	}
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe</a>\n", escapeHTML(unsubscribeURL)))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	var t strings.Builder
	t.WriteString("Regulatory Monitor Subscription Confirmed\n\n")
	t.WriteString("Hello " + name + ",\n\n")
	t.WriteString("You are now subscribed to periodic digests of regulatory changes from the monitored agency sources.\n")
	if len(rcpt.Interests) > 0 {
		t.WriteString("Your digests will be filtered to: " + strings.Join(rcpt.Interests, ", ") + "\n")
	}
	t.WriteString("\nUnsubscribe: " + unsubscribeURL + "\n")

	return b.String(), t.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
