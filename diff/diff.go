// Package diff computes content fingerprints and structural diffs between
// document versions, and classifies how significant a change is.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"medreg-notifier/pkg/medreg"
)

// ErrDecoding indicates content that cannot be treated as text. The caller
// decides whether to skip the document or fall back to empty content.
var ErrDecoding = errors.New("content is not valid UTF-8 text")

// Thresholds map a similarity score in [0,1] to a change classification.
// The values are design constants, overridable through configuration.
type Thresholds struct {
	Minor    float64 // similarity above this: minor_update
	Moderate float64 // similarity above this: moderate_update
	Major    float64 // similarity above this: major_update; below: complete_rewrite
}

// DefaultThresholds returns the standard classification cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 0.9, Moderate: 0.7, Major: 0.3}
}

// Analysis is the result of comparing two document versions.
type Analysis struct {
	Similarity     float64
	Classification medreg.Classification
	Summary        string
	Blocks         []medreg.ChangeBlock
}

// Fingerprint returns the hex-encoded SHA-256 hash of content. Deterministic
// and collision-resistant; used to detect byte-level change cheaply.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Compare diffs two document versions. Empty old content yields a "new"
// classification, empty new content "deleted"; otherwise the similarity is
// the average of a token-set Jaccard measure and a sequence-alignment ratio.
// Pure function: no I/O.
func Compare(oldContent, newContent string, th Thresholds) (*Analysis, error) {
	if !utf8.ValidString(oldContent) || !utf8.ValidString(newContent) {
		return nil, ErrDecoding
	}

	if oldContent == "" {
		return &Analysis{
			Similarity:     0,
			Classification: medreg.ClassificationNew,
			Summary:        "New document.",
		}, nil
	}
	if newContent == "" {
		return &Analysis{
			Similarity:     0,
			Classification: medreg.ClassificationDeleted,
			Summary:        "Document deleted.",
		}, nil
	}

	similarity := Similarity(oldContent, newContent)
	blocks := changeBlocks(oldContent, newContent)

	return &Analysis{
		Similarity:     similarity,
		Classification: classify(similarity, th),
		Summary:        summarize(blocks),
		Blocks:         blocks,
	}, nil
}

// Similarity returns the average of token-set Jaccard similarity and the
// sequence-alignment ratio, in [0,1]. Identical inputs yield 1.0.
func Similarity(a, b string) float64 {
	matcher := difflib.NewMatcher(splitChars(a), splitChars(b))
	return (jaccard(a, b) + matcher.Ratio()) / 2
}

func classify(similarity float64, th Thresholds) medreg.Classification {
	switch {
	case similarity > th.Minor:
		return medreg.ClassificationMinor
	case similarity > th.Moderate:
		return medreg.ClassificationModerate
	case similarity > th.Major:
		return medreg.ClassificationMajor
	default:
		return medreg.ClassificationRewrite
	}
}

// jaccard computes token-set similarity over lowercase word tokens.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// changeBlocks groups the line-oriented unified diff into blocks of
// consecutive added/removed lines, each tagged with a context marker.
func changeBlocks(oldContent, newContent string) []medreg.ChangeBlock {
	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")

	matcher := difflib.NewMatcher(oldLines, newLines)

	var blocks []medreg.ChangeBlock
	for _, group := range matcher.GetGroupedOpCodes(3) {
		first, last := group[0], group[len(group)-1]
		block := medreg.ChangeBlock{
			Context: fmt.Sprintf("@@ -%d,%d +%d,%d @@",
				first.I1+1, last.I2-first.I1, first.J1+1, last.J2-first.J1),
		}

		for _, op := range group {
			switch op.Tag {
			case 'r':
				block.Removed = append(block.Removed, oldLines[op.I1:op.I2]...)
				block.Added = append(block.Added, newLines[op.J1:op.J2]...)
			case 'd':
				block.Removed = append(block.Removed, oldLines[op.I1:op.I2]...)
			case 'i':
				block.Added = append(block.Added, newLines[op.J1:op.J2]...)
			}
		}

		if len(block.Added) > 0 || len(block.Removed) > 0 {
			blocks = append(blocks, block)
		}
	}

	return blocks
}

// High-signal keywords that mark a changed line as a requirement change.
var requirementWords = []string{"deadline", "requirement", "mandatory", "frist", "pflicht"}

func summarize(blocks []medreg.ChangeBlock) string {
	if len(blocks) == 0 {
		return "No significant changes detected."
	}

	var added, removed int
	requirementChange := false
	for _, block := range blocks {
		added += len(block.Added)
		removed += len(block.Removed)
		for _, line := range block.Added {
			lower := strings.ToLower(line)
			for _, word := range requirementWords {
				if strings.Contains(lower, word) {
					requirementChange = true
					break
				}
			}
		}
	}

	summary := fmt.Sprintf("Document updated: %d lines added, %d lines removed.", added, removed)
	if requirementChange {
		summary += " Key requirements changed."
	}
	return summary
}
