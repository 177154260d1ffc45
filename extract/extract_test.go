package extract

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmptyContent(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	info := e.Extract("")
	assert.Empty(t, info.Summary)
	assert.Empty(t, info.Topics)
	assert.Empty(t, info.Dates)
	assert.Empty(t, info.Regulations)
	assert.Empty(t, info.Standards)
	assert.Empty(t, info.ChangeIndicators)
	assert.Zero(t, info.Importance)
}

func TestExtractSignals(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	content := "The updated requirements under EU 2017/745 take effect on January 15, 2026. " +
		"Manufacturers certified to ISO 13485 must revise their quality management documentation. " +
		"Compliance with IEC 62304 is mandatory for software as a medical device."

	info := e.Extract(content)

	assert.Contains(t, info.Standards, "ISO 13485")
	assert.Contains(t, info.Standards, "IEC 62304")
	assert.Contains(t, info.Regulations, "EU 2017/745")
	assert.Contains(t, info.Dates, "January 15, 2026")
	assert.Contains(t, info.Topics, "Quality Management")
	assert.Contains(t, info.Topics, "Software")
	assert.NotEmpty(t, info.ChangeIndicators)
	assert.Positive(t, info.Importance)
	assert.LessOrEqual(t, info.Importance, 100)
	assert.NotEmpty(t, info.Summary)
}

func TestExtractGermanContent(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	content := "Die geänderte Verordnung für Medizinprodukte gilt ab 01.06.2026. " +
		"Das Qualitätsmanagement nach ISO 13485 ist für die Zulassung erforderlich."

	info := e.Extract(content)

	assert.Contains(t, info.Dates, "01.06.2026")
	assert.Contains(t, info.Standards, "ISO 13485")
	assert.Contains(t, info.Topics, "Quality Management")
	assert.Positive(t, info.Importance)
}

func TestExtractDeduplicatesAndSorts(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	content := "ISO 14971 and ISO 13485, then ISO 13485 again, then ISO 14971."
	info := e.Extract(content)

	assert.Equal(t, []string{"ISO 13485", "ISO 14971"}, info.Standards)
}

func TestImportanceClamped(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	content := strings.Repeat("mandatory deadline compliance requirement regulation standard safety risk approval ", 50)
	info := e.Extract(content)
	assert.Equal(t, 100, info.Importance)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5))
	assert.Equal(t, 0, Clamp(0))
	assert.Equal(t, 42, Clamp(42))
	assert.Equal(t, 100, Clamp(100))
	assert.Equal(t, 100, Clamp(250))
}

func TestSummarizePicksHighSignalSentences(t *testing.T) {
	e := New(DefaultVocabulary(), nil)

	content := "The weather was pleasant during the conference. " +
		"The revised regulation introduces a mandatory certification deadline for every medical device. " +
		"Attendees enjoyed the catering in the main hall."

	info := e.Extract(content)
	assert.Contains(t, info.Summary, "mandatory certification deadline")
	assert.NotContains(t, info.Summary, "catering")
}

func TestCustomVocabularyInjection(t *testing.T) {
	vocab := Vocabulary{
		KeywordGroups: map[string][]string{"aviation": {"airworthiness"}},
		TopicPatterns: map[string][]string{"Airworthiness": {"airworthiness"}},
		StandardPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\bCS-\d+\b`),
		},
	}
	e := New(vocab, nil)

	info := e.Extract("The airworthiness directive references CS-23 explicitly.")
	assert.Equal(t, []string{"Airworthiness"}, info.Topics)
	assert.Equal(t, []string{"CS-23"}, info.Standards)

	require.Equal(t, vocab.KeywordGroups, e.Vocabulary().KeywordGroups)
}

func TestRegexSegmenter(t *testing.T) {
	seg := RegexSegmenter{}

	sentences := seg.Segment("Short. This sentence is long enough to keep! Tiny? Another sufficiently long sentence here.")
	assert.Equal(t, []string{
		"This sentence is long enough to keep",
		"Another sufficiently long sentence here",
	}, sentences)
}
