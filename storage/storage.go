// Package storage persists tracked documents, change records, recipients
// and digest archives as JSON objects, either in a Cloud Storage bucket or
// on the local filesystem.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"medreg-notifier/pkg/medreg"
)

const (
	documentPrefix  = "doc-"
	changePrefix    = "change-"
	recipientPrefix = "rcpt-"
	archivePrefix   = "digest-"
)

// Store handles persistence for all monitor state.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte
}

// New creates a new storage handler. When localPath is non-empty all
// objects live under that directory and client may be nil.
func New(client *storage.Client, bucket string, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// TokenFromEmail derives a deterministic, unguessable token from an email address.
// Uses HMAC-SHA256 with a secret salt to ensure tokens cannot be guessed without the salt.
func (s *Store) TokenFromEmail(email string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h.Sum(nil))
}

// RecipientKey generates a stable filename from a token.
// Validates that the token is a safe hex string to prevent path traversal.
// Uses constant-time validation to prevent timing attacks.
func RecipientKey(token string) string {
	if len(token) != 64 {
		return ""
	}

	// Constant-time validation: check all characters, don't exit early
	valid := 1
	for _, c := range token {
		isHexDigit := ((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
		if !isHexDigit {
			valid = 0
		}
	}

	if valid == 0 {
		return ""
	}

	return fmt.Sprintf("%s%s.json", recipientPrefix, token)
}

// DocumentKey generates the object key for a tracked document URL.
func DocumentKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%s%s.json", documentPrefix, hex.EncodeToString(sum[:]))
}

// ChangeKey generates the object key for a change record ID.
func ChangeKey(id string) string {
	return fmt.Sprintf("%s%s.json", changePrefix, id)
}

// ArchiveKey generates the object key for a sent digest archive ID.
func ArchiveKey(id string) string {
	return fmt.Sprintf("%s%s.json", archivePrefix, id)
}

// IsNotFound checks if an error indicates an object was not found.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "storage: object doesn't exist")
}

func errNotFound() error {
	return errors.New("storage: object doesn't exist")
}

// writeObject persists a JSON-marshalable value under key.
func (s *Store) writeObject(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal object: %w", err)
	}

	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	return nil
}

// readObject loads the JSON object under key into v.
func (s *Store) readObject(ctx context.Context, key string, v any) error {
	if key == "" {
		return errNotFound()
	}

	var data []byte

	// Local filesystem storage
	if s.localPath != "" {
		var err error
		filePath := filepath.Join(s.localPath, key)
		data, err = os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return errNotFound()
			}
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		// Cloud Storage with retry logic for reliability
		var readData []byte
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				readData, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(2*time.Minute),
			retry.MaxJitter(10*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if IsNotFound(err) {
				return errNotFound()
			}
			return fmt.Errorf("load after retries: %w", err)
		}
		data = readData
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal object: %w", err)
	}

	return nil
}

// deleteObject removes the object under key. Deleting a missing object is
// not an error.
func (s *Store) deleteObject(ctx context.Context, key string) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Deletion is idempotent
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	return nil
}

// listKeys returns all object keys with the given prefix.
func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	// Local filesystem storage
	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}

		return keys, nil
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix: prefix,
	})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}

	return keys, nil
}

// SaveDocument upserts a tracked document, keyed by its URL.
func (s *Store) SaveDocument(ctx context.Context, doc *medreg.TrackedDocument) error {
	s.logger.Debug("Saving document", "url", doc.URL, "source", doc.Source)
	return s.writeObject(ctx, DocumentKey(doc.URL), doc)
}

// LoadDocument loads a tracked document by URL.
func (s *Store) LoadDocument(ctx context.Context, url string) (*medreg.TrackedDocument, error) {
	var doc medreg.TrackedDocument
	if err := s.readObject(ctx, DocumentKey(url), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments loads all tracked documents.
func (s *Store) ListDocuments(ctx context.Context) ([]*medreg.TrackedDocument, error) {
	keys, err := s.listKeys(ctx, documentPrefix)
	if err != nil {
		return nil, err
	}

	var docs []*medreg.TrackedDocument
	for _, key := range keys {
		var doc medreg.TrackedDocument
		if err := s.readObject(ctx, key, &doc); err != nil {
			s.logger.Warn("Failed to load document", "key", key, "error", err)
			continue
		}
		docs = append(docs, &doc)
	}

	return docs, nil
}

// SaveChange persists a change record, keyed by its ID.
func (s *Store) SaveChange(ctx context.Context, change *medreg.ChangeRecord) error {
	s.logger.Debug("Saving change", "id", change.ID, "url", change.DocumentURL, "classification", change.Classification)
	return s.writeObject(ctx, ChangeKey(change.ID), change)
}

// ListChanges loads all stored change records.
func (s *Store) ListChanges(ctx context.Context) ([]*medreg.ChangeRecord, error) {
	keys, err := s.listKeys(ctx, changePrefix)
	if err != nil {
		return nil, err
	}

	var changes []*medreg.ChangeRecord
	for _, key := range keys {
		var change medreg.ChangeRecord
		if err := s.readObject(ctx, key, &change); err != nil {
			s.logger.Warn("Failed to load change", "key", key, "error", err)
			continue
		}
		changes = append(changes, &change)
	}

	return changes, nil
}

// ListUnprocessedChanges loads all changes not yet included in a sent digest.
func (s *Store) ListUnprocessedChanges(ctx context.Context) ([]*medreg.ChangeRecord, error) {
	all, err := s.ListChanges(ctx)
	if err != nil {
		return nil, err
	}

	var out []*medreg.ChangeRecord
	for _, change := range all {
		if !change.Processed {
			out = append(out, change)
		}
	}
	return out, nil
}

// MarkChangesProcessed flags the given change records as included in a
// sent digest.
func (s *Store) MarkChangesProcessed(ctx context.Context, changes []*medreg.ChangeRecord) error {
	for _, change := range changes {
		change.Processed = true
		if err := s.SaveChange(ctx, change); err != nil {
			return fmt.Errorf("mark change %s processed: %w", change.ID, err)
		}
	}
	return nil
}

// SaveRecipient upserts a recipient. The token must already be derived
// from the email via TokenFromEmail.
func (s *Store) SaveRecipient(ctx context.Context, rcpt *medreg.Recipient) error {
	key := RecipientKey(rcpt.Token)
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Debug("Saving recipient", "key", key, "email", rcpt.Email)
	return s.writeObject(ctx, key, rcpt)
}

// LoadRecipientByEmail loads a recipient by email address.
// Uses HMAC to derive the token from the email, allowing O(1) lookup.
func (s *Store) LoadRecipientByEmail(ctx context.Context, email string) (*medreg.Recipient, error) {
	return s.LoadRecipientByToken(ctx, s.TokenFromEmail(email))
}

// LoadRecipientByToken loads a recipient by its token.
// Validates token format before attempting load to prevent timing attacks.
func (s *Store) LoadRecipientByToken(ctx context.Context, token string) (*medreg.Recipient, error) {
	key := RecipientKey(token)
	if key == "" {
		// Same error as "not found" to prevent timing attacks
		return nil, errNotFound()
	}

	var rcpt medreg.Recipient
	if err := s.readObject(ctx, key, &rcpt); err != nil {
		return nil, err
	}
	return &rcpt, nil
}

// DeleteRecipient removes a recipient by email.
func (s *Store) DeleteRecipient(ctx context.Context, email string) error {
	key := RecipientKey(s.TokenFromEmail(email))
	if key == "" {
		return errors.New("invalid token format")
	}
	s.logger.Info("Deleting recipient", "email", email)
	return s.deleteObject(ctx, key)
}

// ListRecipients loads all recipients, active or not.
func (s *Store) ListRecipients(ctx context.Context) ([]*medreg.Recipient, error) {
	keys, err := s.listKeys(ctx, recipientPrefix)
	if err != nil {
		return nil, err
	}

	var recipients []*medreg.Recipient
	for _, key := range keys {
		var rcpt medreg.Recipient
		if err := s.readObject(ctx, key, &rcpt); err != nil {
			s.logger.Warn("Failed to load recipient", "key", key, "error", err)
			continue
		}
		recipients = append(recipients, &rcpt)
	}

	return recipients, nil
}

// SaveArchive persists a sent digest for audit.
func (s *Store) SaveArchive(ctx context.Context, archive *medreg.DigestArchive) error {
	s.logger.Debug("Saving digest archive", "id", archive.ID, "recipients", archive.RecipientCount)
	return s.writeObject(ctx, ArchiveKey(archive.ID), archive)
}

// ListArchives loads all archived digests.
func (s *Store) ListArchives(ctx context.Context) ([]*medreg.DigestArchive, error) {
	keys, err := s.listKeys(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	var archives []*medreg.DigestArchive
	for _, key := range keys {
		var archive medreg.DigestArchive
		if err := s.readObject(ctx, key, &archive); err != nil {
			s.logger.Warn("Failed to load digest archive", "key", key, "error", err)
			continue
		}
		archives = append(archives, &archive)
	}

	return archives, nil
}

// Cleanup deletes processed change records and digest archives older
// than their retention windows. Unprocessed changes are kept regardless
// of age, so a broken delivery path never loses detections. Returns the
// number of objects removed.
func (s *Store) Cleanup(ctx context.Context, changeRetention, archiveRetention time.Duration) (int, error) {
	now := time.Now()
	removed := 0

	changes, err := s.ListChanges(ctx)
	if err != nil {
		return 0, fmt.Errorf("list changes for cleanup: %w", err)
	}
	for _, change := range changes {
		if !change.Processed {
			continue
		}
		if now.Sub(change.DetectedAt) <= changeRetention {
			continue
		}
		if err := s.deleteObject(ctx, ChangeKey(change.ID)); err != nil {
			return removed, fmt.Errorf("cleanup change %s: %w", change.ID, err)
		}
		removed++
	}

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return removed, fmt.Errorf("list archives for cleanup: %w", err)
	}
	for _, archive := range archives {
		if now.Sub(archive.SentAt) <= archiveRetention {
			continue
		}
		if err := s.deleteObject(ctx, ArchiveKey(archive.ID)); err != nil {
			return removed, fmt.Errorf("cleanup archive %s: %w", archive.ID, err)
		}
		removed++
	}

	s.logger.Info("Retention cleanup completed", "removed", removed)
	return removed, nil
}
