package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medreg-notifier/pkg/medreg"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	salt := []byte("0123456789abcdef0123456789abcdef")
	return New(nil, "", t.TempDir(), salt, logger)
}

func TestTokenFromEmailDeterministic(t *testing.T) {
	s := testStore(t)

	tok := s.TokenFromEmail("User@Example.com ")
	assert.Len(t, tok, 64)
	assert.Equal(t, tok, s.TokenFromEmail("user@example.com"))
	assert.NotEqual(t, tok, s.TokenFromEmail("other@example.com"))
}

func TestRecipientKeyRejectsUnsafeTokens(t *testing.T) {
	assert.Empty(t, RecipientKey("short"))
	assert.Empty(t, RecipientKey(strings.Repeat("z", 64)))
	assert.Empty(t, RecipientKey("../"+strings.Repeat("a", 61)))

	valid := strings.Repeat("a1", 32)
	assert.Equal(t, "rcpt-"+valid+".json", RecipientKey(valid))
}

func TestDocumentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := &medreg.TrackedDocument{
		FirstSeen:   time.Now().UTC().Truncate(time.Second),
		LastChecked: time.Now().UTC().Truncate(time.Second),
		Source:      "FDA",
		URL:         "https://www.fda.gov/guidance/1",
		Title:       "Guidance",
		Fingerprint: "abc123",
		Content:     "body text",
	}

	require.NoError(t, s.SaveDocument(ctx, doc))

	loaded, err := s.LoadDocument(ctx, doc.URL)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestLoadDocumentNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.LoadDocument(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestChangeProcessedFlow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	changes := []*medreg.ChangeRecord{
		{DetectedAt: time.Now(), ID: "aaa", DocumentURL: "https://example.com/a", Classification: medreg.ClassificationNew},
		{DetectedAt: time.Now(), ID: "bbb", DocumentURL: "https://example.com/b", Classification: medreg.ClassificationMajor},
	}
	for _, c := range changes {
		require.NoError(t, s.SaveChange(ctx, c))
	}

	unprocessed, err := s.ListUnprocessedChanges(ctx)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)

	require.NoError(t, s.MarkChangesProcessed(ctx, unprocessed[:1]))

	unprocessed, err = s.ListUnprocessedChanges(ctx)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 1)
}

func TestRecipientLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rcpt := &medreg.Recipient{
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Email:     "qa@example.com",
		Name:      "QA",
		Token:     s.TokenFromEmail("qa@example.com"),
		Interests: []string{"ISO 13485"},
		Active:    true,
	}
	require.NoError(t, s.SaveRecipient(ctx, rcpt))

	byEmail, err := s.LoadRecipientByEmail(ctx, "qa@example.com")
	require.NoError(t, err)
	assert.Equal(t, rcpt, byEmail)

	byToken, err := s.LoadRecipientByToken(ctx, rcpt.Token)
	require.NoError(t, err)
	assert.Equal(t, rcpt.Email, byToken.Email)

	_, err = s.LoadRecipientByToken(ctx, "not-a-token")
	assert.True(t, IsNotFound(err))

	require.NoError(t, s.DeleteRecipient(ctx, "qa@example.com"))
	_, err = s.LoadRecipientByEmail(ctx, "qa@example.com")
	assert.True(t, IsNotFound(err))

	// Idempotent
	require.NoError(t, s.DeleteRecipient(ctx, "qa@example.com"))
}

func TestCleanupRespectsRetention(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := &medreg.ChangeRecord{DetectedAt: time.Now().Add(-100 * 24 * time.Hour), ID: "old", Processed: true}
	fresh := &medreg.ChangeRecord{DetectedAt: time.Now().Add(-time.Hour), ID: "fresh", Processed: true}
	undelivered := &medreg.ChangeRecord{DetectedAt: time.Now().Add(-100 * 24 * time.Hour), ID: "undelivered"}
	require.NoError(t, s.SaveChange(ctx, old))
	require.NoError(t, s.SaveChange(ctx, fresh))
	require.NoError(t, s.SaveChange(ctx, undelivered))

	oldArchive := &medreg.DigestArchive{ID: "olddigest", SentAt: time.Now().Add(-200 * 24 * time.Hour)}
	freshArchive := &medreg.DigestArchive{ID: "freshdigest", SentAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.SaveArchive(ctx, oldArchive))
	require.NoError(t, s.SaveArchive(ctx, freshArchive))

	removed, err := s.Cleanup(ctx, 90*24*time.Hour, 180*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	changes, err := s.ListChanges(ctx)
	require.NoError(t, err)
	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"fresh", "undelivered"}, ids)

	pending, err := s.ListUnprocessedChanges(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "undelivered", pending[0].ID)

	archives, err := s.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "freshdigest", archives[0].ID)
}
