package email

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs emails instead of sending them, and records them for
// inspection in tests.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []MockMessage
}

// MockMessage is one recorded send.
type MockMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	m.mu.Lock()
	m.sent = append(m.sent, MockMessage{To: to, Subject: subject, HTMLBody: htmlBody, TextBody: textBody})
	m.mu.Unlock()

	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"html_length", len(htmlBody),
		"text_length", len(textBody))
	return nil
}

// Sent returns a copy of all recorded messages.
func (m *MockProvider) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
