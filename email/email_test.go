package email

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medreg-notifier/pkg/medreg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendDigestUsesPayloadBodies(t *testing.T) {
	provider := NewMockProvider(testLogger())
	sender := New(provider, testLogger(), "https://monitor.example.com")

	payload := &medreg.DigestPayload{
		GeneratedAt: time.Now(),
		Recipient:   &medreg.Recipient{Email: "qa@example.com", Token: "tok", Active: true},
		Title:       "Important Regulatory Change - March 2026",
		HTMLBody:    "<html>digest</html>",
		TextBody:    "digest",
		Entries:     []medreg.DigestEntry{{Title: "Guidance"}},
	}

	require.NoError(t, sender.SendDigest(context.Background(), payload))

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "qa@example.com", sent[0].To)
	assert.Equal(t, payload.Title, sent[0].Subject)
	assert.Equal(t, payload.HTMLBody, sent[0].HTMLBody)
	assert.Equal(t, payload.TextBody, sent[0].TextBody)
}

func TestSendWelcomeBody(t *testing.T) {
	provider := NewMockProvider(testLogger())
	sender := New(provider, testLogger(), "https://monitor.example.com")

	rcpt := &medreg.Recipient{
		Email:     "new@example.com",
		Name:      "Quality Lead",
		Token:     "tok&1",
		Interests: []string{"ISO 13485", "MDR"},
		Active:    true,
	}

	require.NoError(t, sender.SendWelcome(context.Background(), rcpt))

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Regulatory Monitor Subscription Confirmed", sent[0].Subject)
	assert.Contains(t, sent[0].HTMLBody, "Quality Lead")
	assert.Contains(t, sent[0].HTMLBody, "ISO 13485, MDR")
	assert.Contains(t, sent[0].HTMLBody, "token=tok%261")
	assert.Contains(t, sent[0].TextBody, "Unsubscribe: https://monitor.example.com/unsubscribe?token=tok%261")
}

func TestSanitizeEmailHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain subject", "plain subject"},
		{"injected\r\nBcc: evil@example.com", "injectedBcc: evil@example.com"},
		{"tab\tand\x00nul", "tabandnul"},
		{"Umlaut ä ok", "Umlaut ä ok"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeEmailHeader(tt.input))
	}
}
