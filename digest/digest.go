// Package digest assembles personalized digest payloads from scored
// changes: per-recipient relevance filtering, ranking by importance, and
// HTML/text rendering.
package digest

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"medreg-notifier/pkg/medreg"
	"medreg-notifier/score"
)

// Options control assembly behavior.
type Options struct {
	// RelevanceThreshold excludes changes scoring below it, but only for
	// recipients that declared interests.
	RelevanceThreshold float64
	// BaseURL is used for unsubscribe/settings/archive links.
	BaseURL string
	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// Assembler builds digest payloads.
type Assembler struct {
	logger *slog.Logger
	opts   Options
}

// New creates a digest assembler.
func New(opts Options, logger *slog.Logger) *Assembler {
	if opts.RelevanceThreshold == 0 {
		opts.RelevanceThreshold = 0.3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{logger: logger, opts: opts}
}

// Assemble produces one personalized payload per active recipient.
// Recipients without declared interests receive all changes; an empty
// change list still yields a valid payload. Missing optional fields on a
// change are simply omitted from rendering.
func (a *Assembler) Assemble(changes []*medreg.ChangeRecord, recipients []*medreg.Recipient) []*medreg.DigestPayload {
	now := a.opts.Now()

	var payloads []*medreg.DigestPayload
	for _, rcpt := range recipients {
		if !rcpt.Active {
			continue
		}

		relevant := a.filterRelevant(changes, rcpt)
		sortByImportance(relevant)

		entries := make([]medreg.DigestEntry, 0, len(relevant))
		for _, change := range relevant {
			entries = append(entries, entryFor(change))
		}

		payload := &medreg.DigestPayload{
			GeneratedAt: now,
			Recipient:   rcpt,
			Title:       Title(len(entries), now),
			Entries:     entries,
		}
		payload.HTMLBody = a.renderHTML(payload)
		payload.TextBody = a.renderText(payload)
		payloads = append(payloads, payload)
	}

	a.logger.Info("Digests assembled",
		"recipients", len(recipients),
		"payloads", len(payloads),
		"changes", len(changes))

	return payloads
}

func (a *Assembler) filterRelevant(changes []*medreg.ChangeRecord, rcpt *medreg.Recipient) []*medreg.ChangeRecord {
	if len(rcpt.Interests) == 0 {
		out := make([]*medreg.ChangeRecord, len(changes))
		copy(out, changes)
		return out
	}

	var out []*medreg.ChangeRecord
	for _, change := range changes {
		relevance := Relevance(change, rcpt.Interests)
		if relevance < a.opts.RelevanceThreshold {
			a.logger.Debug("Change below relevance threshold",
				"email", rcpt.Email,
				"change_id", change.ID,
				"relevance", relevance)
			continue
		}
		out = append(out, change)
	}
	return out
}

// Relevance measures the normalized overlap between a recipient's declared
// interests and a change's topics, regulations and standards. Exact set
// membership counts at full weight, case-insensitive substring overlap at
// half weight; the result is in [0,1].
func Relevance(change *medreg.ChangeRecord, interests []string) float64 {
	if len(interests) == 0 {
		return 1.0
	}

	var fields []string
	fields = append(fields, change.Info.Topics...)
	fields = append(fields, change.Info.Regulations...)
	fields = append(fields, change.Info.Standards...)

	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}

	var scored, total float64
	for _, interest := range interests {
		interestLower := strings.ToLower(strings.TrimSpace(interest))
		total += 1.0

		best := 0.0
		for _, field := range lowered {
			if field == interestLower {
				best = 1.0
				break
			}
			if strings.Contains(field, interestLower) || strings.Contains(interestLower, field) {
				best = 0.5
			}
		}
		scored += best
	}

	if total == 0 {
		return 0
	}
	relevance := scored / total
	if relevance > 1 {
		relevance = 1
	}
	return relevance
}

// sortByImportance orders changes by composite importance descending,
// most recent detection first on ties.
func sortByImportance(changes []*medreg.ChangeRecord) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Importance != changes[j].Importance {
			return changes[i].Importance > changes[j].Importance
		}
		return changes[i].DetectedAt.After(changes[j].DetectedAt)
	})
}

// Title derives the digest subject from the number of included changes,
// parameterized by the current period.
func Title(changeCount int, now time.Time) string {
	period := now.Format("January 2006")
	switch {
	case changeCount == 0:
		return "Regulatory Monitor Digest - " + period
	case changeCount == 1:
		return "Important Regulatory Change - " + period
	case changeCount <= 3:
		return fmt.Sprintf("%d New Regulatory Changes - %s", changeCount, period)
	default:
		return "Comprehensive Regulatory Update - " + period
	}
}

func entryFor(change *medreg.ChangeRecord) medreg.DigestEntry {
	summary := change.Info.Summary
	if summary == "" {
		summary = change.Summary
	}
	title := change.Title
	if title == "" {
		title = change.DocumentURL
	}
	return medreg.DigestEntry{
		DetectedAt:     change.DetectedAt,
		Title:          title,
		Source:         change.Source,
		URL:            change.DocumentURL,
		Classification: change.Classification,
		Tier:           score.Tier(change.Importance),
		Summary:        summary,
		Topics:         change.Info.Topics,
		Regulations:    change.Info.Regulations,
		Standards:      change.Info.Standards,
		Dates:          change.Info.Dates,
		Importance:     change.Importance,
	}
}
