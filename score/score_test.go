package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"medreg-notifier/extract"
	"medreg-notifier/pkg/medreg"
)

func TestCompositeWeighsChangedLines(t *testing.T) {
	vocab := extract.DefaultVocabulary()
	info := medreg.InfoRecord{Importance: 10}

	blocks := []medreg.ChangeBlock{
		{
			Added: []string{
				"Compliance with the new rule is mandatory.", // high-importance term, +5
				"The text has been updated accordingly.",     // change word, +3
				"An unrelated sentence.",                     // +1
			},
			Removed: []string{"Old clause."}, // +1
		},
	}

	assert.Equal(t, 20, Composite(info, blocks, vocab))
}

func TestCompositeNoBlocksFallsBackToInfo(t *testing.T) {
	vocab := extract.DefaultVocabulary()
	info := medreg.InfoRecord{Importance: 37}

	assert.Equal(t, 37, Composite(info, nil, vocab))
}

func TestCompositeClamped(t *testing.T) {
	vocab := extract.DefaultVocabulary()
	info := medreg.InfoRecord{Importance: 95}

	blocks := []medreg.ChangeBlock{{
		Added: []string{
			"Mandatory deadline one.",
			"Mandatory deadline two.",
			"Mandatory deadline three.",
		},
	}}

	assert.Equal(t, 100, Composite(info, blocks, vocab))
}

func TestTier(t *testing.T) {
	assert.Equal(t, medreg.TierHigh, Tier(100))
	assert.Equal(t, medreg.TierHigh, Tier(70))
	assert.Equal(t, medreg.TierMedium, Tier(69))
	assert.Equal(t, medreg.TierMedium, Tier(40))
	assert.Equal(t, medreg.TierLow, Tier(39))
	assert.Equal(t, medreg.TierLow, Tier(0))
}
