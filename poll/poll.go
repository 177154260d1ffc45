// Package poll runs the monitoring pipeline: fetch candidates from every
// source, detect and classify content changes, and periodically send
// personalized digests.
package poll

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"medreg-notifier/diff"
	"medreg-notifier/extract"
	"medreg-notifier/pkg/medreg"
	"medreg-notifier/score"
	"medreg-notifier/storage"
)

// Fetcher retrieves candidate documents from one source.
type Fetcher interface {
	Name() string
	FetchCandidates(ctx context.Context) ([]*medreg.RawDocument, error)
}

// Store is the persistence surface the monitor depends on.
type Store interface {
	LoadDocument(ctx context.Context, url string) (*medreg.TrackedDocument, error)
	SaveDocument(ctx context.Context, doc *medreg.TrackedDocument) error
	SaveChange(ctx context.Context, change *medreg.ChangeRecord) error
	ListUnprocessedChanges(ctx context.Context) ([]*medreg.ChangeRecord, error)
	MarkChangesProcessed(ctx context.Context, changes []*medreg.ChangeRecord) error
	ListRecipients(ctx context.Context) ([]*medreg.Recipient, error)
	SaveArchive(ctx context.Context, archive *medreg.DigestArchive) error
	Cleanup(ctx context.Context, changeRetention, archiveRetention time.Duration) (int, error)
}

// Emailer delivers assembled digests.
type Emailer interface {
	SendDigest(ctx context.Context, payload *medreg.DigestPayload) error
}

// Assembler turns changes and recipients into personalized payloads.
type Assembler interface {
	Assemble(changes []*medreg.ChangeRecord, recipients []*medreg.Recipient) []*medreg.DigestPayload
}

// Options tune the monitor.
type Options struct {
	Thresholds       diff.Thresholds
	FetchConcurrency int
	SendConcurrency  int
	// RetainContent keeps document text between cycles so changes get a
	// structural diff. When false, detection degrades to hash comparison.
	RetainContent    bool
	SendEmpty        bool
	ChangeRetention  time.Duration
	ArchiveRetention time.Duration
}

// Monitor coordinates fetching, change detection and digest delivery.
type Monitor struct {
	store     Store
	emailer   Emailer
	assembler Assembler
	extractor *extract.Extractor
	logger    *slog.Logger
	fetchers  []Fetcher
	opts      Options
}

// New creates a monitor. The emailer may be nil; digests are then
// assembled but never sent, and changes stay unprocessed.
func New(fetchers []Fetcher, store Store, emailer Emailer, assembler Assembler, extractor *extract.Extractor, opts Options, logger *slog.Logger) *Monitor {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = 4
	}
	if opts.Thresholds == (diff.Thresholds{}) {
		opts.Thresholds = diff.DefaultThresholds()
	}
	return &Monitor{
		fetchers:  fetchers,
		store:     store,
		emailer:   emailer,
		assembler: assembler,
		extractor: extractor,
		opts:      opts,
		logger:    logger,
	}
}

// Cycle runs one full scrape-and-detect pass over all sources. Fetch
// failures are logged and skipped; a persistence failure aborts the
// cycle so no change is half-recorded.
func (m *Monitor) Cycle(ctx context.Context) error {
	start := time.Now()
	m.logger.Info("Polling cycle starting", "sources", len(m.fetchers))

	candidates := m.fetchAll(ctx)

	var newDocs, changed, unchanged, skipped int
	for _, raw := range candidates {
		outcome, err := m.processCandidate(ctx, raw)
		if err != nil {
			return fmt.Errorf("process %s: %w", raw.URL, err)
		}
		switch outcome {
		case outcomeNew:
			newDocs++
		case outcomeChanged:
			changed++
		case outcomeUnchanged:
			unchanged++
		case outcomeSkipped:
			skipped++
		}
	}

	m.logger.Info("Polling cycle completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"candidates", len(candidates),
		"new", newDocs,
		"changed", changed,
		"unchanged", unchanged,
		"skipped", skipped)

	return nil
}

// fetchAll queries every source with bounded concurrency. Sources fail
// independently.
func (m *Monitor) fetchAll(ctx context.Context) []*medreg.RawDocument {
	var (
		mu   sync.Mutex
		all  []*medreg.RawDocument
		wg   sync.WaitGroup
		slot = make(chan struct{}, m.opts.FetchConcurrency)
	)

	for _, fetcher := range m.fetchers {
		wg.Add(1)
		go func(f Fetcher) {
			defer wg.Done()
			slot <- struct{}{}
			defer func() { <-slot }()

			docs, err := f.FetchCandidates(ctx)
			if err != nil {
				m.logger.Warn("Source fetch failed", "source", f.Name(), "error", err)
				return
			}

			mu.Lock()
			all = append(all, docs...)
			mu.Unlock()

			m.logger.Info("Source fetched", "source", f.Name(), "candidates", len(docs))
		}(fetcher)
	}
	wg.Wait()

	return all
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeNew
	outcomeChanged
	outcomeSkipped
)

func (m *Monitor) processCandidate(ctx context.Context, raw *medreg.RawDocument) (outcome, error) {
	fingerprint := diff.Fingerprint([]byte(raw.Content))

	doc, err := m.store.LoadDocument(ctx, raw.URL)
	switch {
	case storage.IsNotFound(err):
		return m.recordNewDocument(ctx, raw, fingerprint)
	case err != nil:
		return outcomeSkipped, fmt.Errorf("load document: %w", err)
	}

	doc.LastChecked = raw.FetchedAt
	if doc.Fingerprint == fingerprint {
		if err := m.store.SaveDocument(ctx, doc); err != nil {
			return outcomeSkipped, fmt.Errorf("save document: %w", err)
		}
		return outcomeUnchanged, nil
	}

	analysis, err := m.analyzeChange(doc, raw)
	if errors.Is(err, diff.ErrDecoding) {
		// Keep the previous fingerprint so a readable fetch next cycle
		// still registers as a change.
		m.logger.Warn("Skipping undecodable content", "url", raw.URL, "error", err)
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, fmt.Errorf("analyze change: %w", err)
	}

	info := m.extractor.Extract(raw.Content)
	importance := score.Composite(info, analysis.Blocks, m.extractor.Vocabulary())

	change := &medreg.ChangeRecord{
		DetectedAt:     raw.FetchedAt,
		ID:             changeID(raw.URL, fingerprint),
		DocumentURL:    raw.URL,
		Source:         raw.Source,
		Title:          raw.Title,
		Fingerprint:    fingerprint,
		Classification: analysis.Classification,
		Summary:        analysis.Summary,
		Similarity:     analysis.Similarity,
		Importance:     importance,
		Blocks:         analysis.Blocks,
		Info:           info,
	}
	if err := m.store.SaveChange(ctx, change); err != nil {
		return outcomeSkipped, fmt.Errorf("save change: %w", err)
	}

	doc.Title = raw.Title
	doc.Fingerprint = fingerprint
	if m.opts.RetainContent {
		doc.Content = raw.Content
	} else {
		doc.Content = ""
	}
	if err := m.store.SaveDocument(ctx, doc); err != nil {
		return outcomeSkipped, fmt.Errorf("save document: %w", err)
	}

	m.logger.Info("Change detected",
		"url", raw.URL,
		"source", raw.Source,
		"classification", change.Classification,
		"similarity", change.Similarity,
		"importance", change.Importance)

	return outcomeChanged, nil
}

func (m *Monitor) recordNewDocument(ctx context.Context, raw *medreg.RawDocument, fingerprint string) (outcome, error) {
	info := m.extractor.Extract(raw.Content)

	change := &medreg.ChangeRecord{
		DetectedAt:     raw.FetchedAt,
		ID:             changeID(raw.URL, fingerprint),
		DocumentURL:    raw.URL,
		Source:         raw.Source,
		Title:          raw.Title,
		Fingerprint:    fingerprint,
		Classification: medreg.ClassificationNew,
		Summary:        "New document.",
		Importance:     info.Importance,
		Info:           info,
	}
	if err := m.store.SaveChange(ctx, change); err != nil {
		return outcomeSkipped, fmt.Errorf("save change: %w", err)
	}

	doc := &medreg.TrackedDocument{
		FirstSeen:   raw.FetchedAt,
		LastChecked: raw.FetchedAt,
		Source:      raw.Source,
		URL:         raw.URL,
		Title:       raw.Title,
		Fingerprint: fingerprint,
	}
	if m.opts.RetainContent {
		doc.Content = raw.Content
	}
	if err := m.store.SaveDocument(ctx, doc); err != nil {
		return outcomeSkipped, fmt.Errorf("save document: %w", err)
	}

	m.logger.Info("New document tracked", "url", raw.URL, "source", raw.Source, "importance", info.Importance)
	return outcomeNew, nil
}

// analyzeChange produces a structural diff when the previous content is
// available, and a hash-only stub otherwise.
func (m *Monitor) analyzeChange(doc *medreg.TrackedDocument, raw *medreg.RawDocument) (*diff.Analysis, error) {
	if m.opts.RetainContent && doc.Content != "" {
		return diff.Compare(doc.Content, raw.Content, m.opts.Thresholds)
	}
	return &diff.Analysis{
		Classification: medreg.ClassificationModerate,
		Summary:        "Content changed (hash-only detection).",
	}, nil
}

// changeID derives a stable identifier from the document URL and the new
// fingerprint, so re-detecting the same transition is idempotent.
func changeID(url, fingerprint string) string {
	sum := sha256.Sum256([]byte(url + "|" + fingerprint))
	return hex.EncodeToString(sum[:8])
}

// DigestRun assembles and sends digests for all unprocessed changes.
// Changes are marked processed once at least one delivery succeeded, so
// a fully failed run retries the same window next time.
func (m *Monitor) DigestRun(ctx context.Context) error {
	changes, err := m.store.ListUnprocessedChanges(ctx)
	if err != nil {
		return fmt.Errorf("list unprocessed changes: %w", err)
	}
	if len(changes) == 0 {
		m.logger.Info("No unprocessed changes, skipping digest run")
		return nil
	}

	recipients, err := m.store.ListRecipients(ctx)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}

	payloads := m.assembler.Assemble(changes, recipients)
	if m.emailer == nil {
		m.logger.Warn("Mail transport unavailable, digests not sent",
			"payloads", len(payloads),
			"changes", len(changes))
		return nil
	}

	sent, attempted := m.sendAll(ctx, payloads)
	m.logger.Info("Digest run completed",
		"changes", len(changes),
		"payloads", len(payloads),
		"attempted", attempted,
		"sent", sent)

	if sent == 0 {
		if attempted > 0 {
			return errors.New("digest run: no payload could be delivered")
		}
		// Nothing to send this window, the changes are consumed.
		if err := m.store.MarkChangesProcessed(ctx, changes); err != nil {
			return fmt.Errorf("mark changes processed: %w", err)
		}
		return nil
	}

	if err := m.store.MarkChangesProcessed(ctx, changes); err != nil {
		return fmt.Errorf("mark changes processed: %w", err)
	}

	archive := &medreg.DigestArchive{
		GeneratedAt:    payloads[0].GeneratedAt,
		SentAt:         time.Now().UTC(),
		ID:             changeID("digest", payloads[0].GeneratedAt.Format(time.RFC3339Nano)),
		Title:          payloads[0].Title,
		HTMLBody:       payloads[0].HTMLBody,
		TextBody:       payloads[0].TextBody,
		RecipientCount: sent,
		ChangeCount:    len(changes),
	}
	if err := m.store.SaveArchive(ctx, archive); err != nil {
		return fmt.Errorf("archive digest: %w", err)
	}

	return nil
}

// sendAll delivers payloads with bounded concurrency. Each recipient
// fails independently.
func (m *Monitor) sendAll(ctx context.Context, payloads []*medreg.DigestPayload) (sent, attempted int) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		slot = make(chan struct{}, m.opts.SendConcurrency)
	)

	for _, payload := range payloads {
		if len(payload.Entries) == 0 && !m.opts.SendEmpty {
			m.logger.Debug("Skipping empty digest", "to", payload.Recipient.Email)
			continue
		}

		attempted++
		wg.Add(1)
		go func(p *medreg.DigestPayload) {
			defer wg.Done()
			slot <- struct{}{}
			defer func() { <-slot }()

			if err := m.emailer.SendDigest(ctx, p); err != nil {
				m.logger.Error("Digest delivery failed", "to", p.Recipient.Email, "error", err)
				return
			}

			mu.Lock()
			sent++
			mu.Unlock()
		}(payload)
	}
	wg.Wait()

	return sent, attempted
}

// Cleanup removes change records and digest archives past their
// retention windows.
func (m *Monitor) Cleanup(ctx context.Context) error {
	removed, err := m.store.Cleanup(ctx, m.opts.ChangeRetention, m.opts.ArchiveRetention)
	if err != nil {
		return fmt.Errorf("retention cleanup: %w", err)
	}
	m.logger.Info("Cleanup completed", "removed", removed)
	return nil
}
