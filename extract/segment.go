package extract

import (
	"regexp"
	"strings"
)

// Segmenter splits text into sentences. The extractor depends only on this
// interface, so a model-backed segmenter can be swapped in at startup when
// one is available.
type Segmenter interface {
	Segment(text string) []string
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// RegexSegmenter is the fallback sentence splitter: it breaks on terminal
// punctuation and drops fragments too short to carry signal.
type RegexSegmenter struct {
	// MinLength filters out fragments at or below this rune count.
	// Zero means the default of 10.
	MinLength int
}

// Segment splits text into sentences.
func (r RegexSegmenter) Segment(text string) []string {
	minLen := r.MinLength
	if minLen == 0 {
		minLen = 10
	}

	var sentences []string
	for _, part := range sentenceBoundary.Split(text, -1) {
		part = strings.TrimSpace(part)
		if len([]rune(part)) > minLen {
			sentences = append(sentences, part)
		}
	}
	return sentences
}
