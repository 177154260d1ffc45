// Package extract scans document text for domain keywords, dates,
// regulation and standard citations, and change-indicator phrases, and
// scores how important the content is.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"medreg-notifier/pkg/medreg"
)

const maxImportance = 100

// Extractor builds InfoRecords from raw document text. Stateless apart
// from its injected vocabulary and segmenter; safe for concurrent use.
type Extractor struct {
	vocab     Vocabulary
	segmenter Segmenter
}

// New creates an extractor. A nil segmenter falls back to the regex
// implementation.
func New(vocab Vocabulary, segmenter Segmenter) *Extractor {
	if segmenter == nil {
		segmenter = RegexSegmenter{}
	}
	return &Extractor{vocab: vocab, segmenter: segmenter}
}

// Vocabulary returns the vocabulary the extractor was built with.
func (e *Extractor) Vocabulary() Vocabulary {
	return e.vocab
}

// Extract produces a structured information record for content. Never
// fails: empty input yields a zero-valued record, all list fields are
// deduplicated, and the importance score is always within [0,100].
func (e *Extractor) Extract(content string) medreg.InfoRecord {
	var info medreg.InfoRecord
	if content == "" {
		return info
	}

	info.Summary = e.summarize(content)
	info.Topics = e.topics(content)
	info.Dates = matchAll(content, e.vocab.DatePatterns)
	info.Regulations = matchAll(content, e.vocab.RegulationPatterns)
	info.Standards = matchAll(content, e.vocab.StandardPatterns)
	info.ChangeIndicators = matchAll(content, e.vocab.ChangeIndicatorPatterns)
	info.Importance = e.importance(content, info)

	return info
}

// summarize scores each sentence by keyword density and joins the top
// three into a summary.
func (e *Extractor) summarize(content string) string {
	sentences := e.segmenter.Segment(content)

	type scored struct {
		sentence string
		score    int
	}
	var ranked []scored

	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)
		score := 0

		for _, keywords := range e.vocab.KeywordGroups {
			for _, keyword := range keywords {
				if strings.Contains(lower, keyword) {
					score++
				}
			}
		}
		for _, word := range e.vocab.ChangeWords {
			if strings.Contains(lower, word) {
				score += 2
			}
		}

		if score > 0 {
			ranked = append(ranked, scored{sentence: sentence, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	top := make([]string, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		top = append(top, ranked[i].sentence)
	}
	return strings.Join(top, " ")
}

func (e *Extractor) topics(content string) []string {
	lower := strings.ToLower(content)

	var topics []string
	for topic, patterns := range e.vocab.TopicPatterns {
		for _, pattern := range patterns {
			if strings.Contains(lower, pattern) {
				topics = append(topics, topic)
				break
			}
		}
	}

	sort.Strings(topics)
	return topics
}

// importance sums keyword occurrences, double-weighted high-importance
// terms, and the citation/indicator counts, clamped to [0,100].
func (e *Extractor) importance(content string, info medreg.InfoRecord) int {
	lower := strings.ToLower(content)
	score := 0

	for _, keywords := range e.vocab.KeywordGroups {
		for _, keyword := range keywords {
			score += strings.Count(lower, keyword)
		}
	}
	for _, word := range e.vocab.HighImportance {
		score += strings.Count(lower, word) * 2
	}

	score += len(info.Regulations) * 3
	score += len(info.Standards) * 2
	score += len(info.ChangeIndicators) * 2

	return Clamp(score)
}

// Clamp bounds an importance score to [0,100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxImportance {
		return maxImportance
	}
	return score
}

// matchAll applies the patterns to content and returns the sorted,
// deduplicated whole-string matches.
func matchAll(content string, patterns []*regexp.Regexp) []string {
	seen := make(map[string]struct{})
	var matches []string
	for _, pattern := range patterns {
		for _, m := range pattern.FindAllString(content, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			matches = append(matches, m)
		}
	}
	sort.Strings(matches)
	return matches
}
