// Package medreg contains the core domain types for the regulatory
// change-monitoring service.
package medreg

import "time"

// Classification describes how much a tracked document changed between
// two fetches.
type Classification string

const (
	ClassificationNew      Classification = "new"
	ClassificationMinor    Classification = "minor_update"
	ClassificationModerate Classification = "moderate_update"
	ClassificationMajor    Classification = "major_update"
	ClassificationRewrite  Classification = "complete_rewrite"
	ClassificationDeleted  Classification = "deleted"
)

// Importance tiers used for presentation. Derived from the composite
// importance score: >= 70 high, >= 40 medium, otherwise low.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// RawDocument is one fetched candidate page, before fingerprinting.
type RawDocument struct {
	Source    string    // Source name (e.g. "FDA")
	URL       string    // Canonical document URL
	Title     string    // Link text or page title
	Content   string    // Cleaned plain text
	FetchedAt time.Time // When the fetch completed
}

// TrackedDocument is one URL being monitored across polling cycles.
type TrackedDocument struct {
	FirstSeen   time.Time `json:"first_seen"`
	LastChecked time.Time `json:"last_checked"`
	Source      string    `json:"source"`
	URL         string    `json:"url"` // Globally unique key
	Title       string    `json:"title"`
	Fingerprint string    `json:"fingerprint"` // Hex SHA-256 of the last fetched content
	Content     string    `json:"content,omitempty"`
}

// ChangeBlock is one group of consecutive added/removed lines from a
// structural diff, tagged with its surrounding context marker.
type ChangeBlock struct {
	Context string   `json:"context"` // "@@ -a,b +c,d @@" style marker
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// InfoRecord holds the signals extracted from document content: a keyword
// summary, topics, dates, regulation and standard citations, change
// indicators, and a bounded importance score.
type InfoRecord struct {
	Summary          string   `json:"summary"`
	Topics           []string `json:"topics,omitempty"`
	Dates            []string `json:"dates,omitempty"`
	Regulations      []string `json:"regulations,omitempty"`
	Standards        []string `json:"standards,omitempty"`
	ChangeIndicators []string `json:"change_indicators,omitempty"`
	Importance       int      `json:"importance"` // Always in [0,100]
}

// ChangeRecord is one detected change to a TrackedDocument. Immutable once
// created except for the Processed flag.
type ChangeRecord struct {
	DetectedAt     time.Time      `json:"detected_at"`
	ID             string         `json:"id"`
	DocumentURL    string         `json:"document_url"`
	Source         string         `json:"source"`
	Title          string         `json:"title"`
	Fingerprint    string         `json:"fingerprint"` // Hash of the content that triggered the change
	Classification Classification `json:"classification"`
	Summary        string         `json:"summary"`
	Similarity     float64        `json:"similarity"`
	Importance     int            `json:"importance"` // Composite score, always in [0,100]
	Blocks         []ChangeBlock  `json:"blocks,omitempty"`
	Info           InfoRecord     `json:"info"`
	Processed      bool           `json:"processed"`
}

// Recipient is an addressable digest subscriber.
type Recipient struct {
	CreatedAt time.Time `json:"created_at"`
	Email     string    `json:"email"` // Unique
	Name      string    `json:"name,omitempty"`
	Token     string    `json:"token"` // HMAC-derived, used in unsubscribe links
	Interests []string  `json:"interests,omitempty"`
	Active    bool      `json:"active"`
}

// DigestEntry is one change prepared for rendering in a digest.
type DigestEntry struct {
	DetectedAt     time.Time
	Title          string
	Source         string
	URL            string
	Classification Classification
	Tier           string
	Summary        string
	Topics         []string
	Regulations    []string
	Standards      []string
	Dates          []string
	Importance     int
}

// DigestPayload is one personalized digest, ready to hand to the mail
// transport. Generated fresh per run.
type DigestPayload struct {
	GeneratedAt time.Time
	Recipient   *Recipient
	Title       string
	HTMLBody    string
	TextBody    string
	Entries     []DigestEntry
}

// DigestArchive is an immutable record of a sent digest, kept for audit
// until the retention window expires.
type DigestArchive struct {
	GeneratedAt    time.Time `json:"generated_at"`
	SentAt         time.Time `json:"sent_at"`
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	HTMLBody       string    `json:"html_body"`
	TextBody       string    `json:"text_body"`
	RecipientCount int       `json:"recipient_count"`
	ChangeCount    int       `json:"change_count"`
}
