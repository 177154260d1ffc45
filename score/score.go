// Package score combines extracted signals with diff-block content into a
// composite importance score and a presentation tier.
package score

import (
	"strings"

	"medreg-notifier/extract"
	"medreg-notifier/pkg/medreg"
)

// Line weights for diff-block scoring.
const (
	highImportanceLineWeight = 5
	changeWordLineWeight     = 3
	addedLineWeight          = 1
	removedLineWeight        = 1
)

// Composite returns the final importance score for a change: the signal
// extractor's score plus a weighted contribution from the diff blocks,
// clamped to [0,100]. This is the score downstream ranking uses.
func Composite(info medreg.InfoRecord, blocks []medreg.ChangeBlock, vocab extract.Vocabulary) int {
	score := info.Importance

	for _, block := range blocks {
		for _, line := range block.Added {
			lower := strings.ToLower(line)
			switch {
			case containsAny(lower, vocab.HighImportance):
				score += highImportanceLineWeight
			case containsAny(lower, vocab.ChangeWords):
				score += changeWordLineWeight
			default:
				score += addedLineWeight
			}
		}
		score += len(block.Removed) * removedLineWeight
	}

	return extract.Clamp(score)
}

// Tier maps a composite importance score to a presentation tier.
func Tier(importance int) string {
	switch {
	case importance >= 70:
		return medreg.TierHigh
	case importance >= 40:
		return medreg.TierMedium
	default:
		return medreg.TierLow
	}
}

func containsAny(s string, words []string) bool {
	for _, word := range words {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}
