package extract

import "regexp"

// Vocabulary holds the keyword tables and citation patterns the extractor
// scans for. Built once at startup and passed in explicitly, so tests can
// inject alternate vocabularies.
type Vocabulary struct {
	// KeywordGroups maps a group name to the terms that count toward
	// sentence and importance scoring.
	KeywordGroups map[string][]string
	// HighImportance terms double-weight the importance score.
	HighImportance []string
	// ChangeWords get bonus weight during sentence scoring.
	ChangeWords []string
	// TopicPatterns maps a topic name to the substrings that indicate it.
	TopicPatterns map[string][]string

	DatePatterns            []*regexp.Regexp
	RegulationPatterns      []*regexp.Regexp
	StandardPatterns        []*regexp.Regexp
	ChangeIndicatorPatterns []*regexp.Regexp
}

// DefaultVocabulary returns the medical-technology vocabulary in English
// and German, matching the sources the service monitors.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		KeywordGroups: map[string][]string{
			"regulations": {"regulation", "directive", "law", "act", "verordnung", "richtlinie", "gesetz"},
			"standards":   {"standard", "norm", "iso", "iec", "din", "astm"},
			"devices":     {"medical device", "medizinprodukt", "implant", "diagnostic", "therapeutic"},
			"quality":     {"quality", "safety", "risk", "qualität", "sicherheit", "risiko"},
			"approval":    {"approval", "certification", "clearance", "zulassung", "zertifizierung"},
			"clinical":    {"clinical trial", "study", "evaluation", "klinische studie", "bewertung"},
		},
		HighImportance: []string{
			"mandatory", "required", "deadline", "compliance",
			"pflicht", "erforderlich", "frist", "konformität",
		},
		ChangeWords: []string{
			"new", "updated", "revised", "amended", "changed", "modified",
			"neu", "aktualisiert", "überarbeitet", "geändert", "modifiziert",
		},
		TopicPatterns: map[string][]string{
			"Medical Device Regulation": {"mdr", "medical device regulation", "medizinprodukteverordnung"},
			"In Vitro Diagnostic":       {"ivd", "in vitro diagnostic", "in-vitro-diagnostika"},
			"Quality Management":        {"quality management", "qualitätsmanagement", "iso 13485"},
			"Risk Management":           {"risk management", "risikomanagement", "iso 14971"},
			"Clinical Evaluation":       {"clinical evaluation", "klinische bewertung"},
			"Post Market Surveillance":  {"post market surveillance", "marktüberwachung"},
			"Biocompatibility":          {"biocompatibility", "biokompatibilität", "iso 10993"},
			"Software":                  {"software", "iec 62304"},
			"Sterilization":             {"sterilization", "sterilisation", "iso 11135"},
		},
		DatePatterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{1,2}[./]\d{1,2}[./]\d{4}\b`),
			regexp.MustCompile(`\b\d{4}[./]\d{1,2}[./]\d{1,2}\b`),
			regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4}\b`),
			regexp.MustCompile(`(?i)\b\d{1,2}\.?\s+(?:January|February|March|April|May|June|July|August|September|October|November|December|Januar|Februar|März|April|Mai|Juni|Juli|August|September|Oktober|November|Dezember)\s+\d{4}\b`),
		},
		RegulationPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:EU|EC)\s+\d+/\d+\b`),
			regexp.MustCompile(`\bMDR\b`),
			regexp.MustCompile(`\bIVDR\b`),
			regexp.MustCompile(`\bFDA\s+\w+\b`),
			regexp.MustCompile(`\b21\s+CFR\s+\d+\b`),
			regexp.MustCompile(`(?i)\bMedizinproduktegesetz\b`),
			regexp.MustCompile(`\bMPG\b`),
		},
		StandardPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bISO\s+\d+(?:-\d+)?\b`),
			regexp.MustCompile(`(?i)\bIEC\s+\d+(?:-\d+)?\b`),
			regexp.MustCompile(`(?i)\bDIN\s+EN\s+\d+\b`),
			regexp.MustCompile(`(?i)\bASTM\s+\w+\d+\b`),
		},
		ChangeIndicatorPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:new|updated|revised|amended|changed|modified|introduced)\s+\w+`),
			regexp.MustCompile(`(?i)\b(?:neu|aktualisiert|überarbeitet|geändert|modifiziert|eingeführt)\s+\w+`),
			regexp.MustCompile(`(?i)\beffective\s+(?:date|from)\b`),
			regexp.MustCompile(`(?i)\b(?:gültig|wirksam)\s+(?:ab|vom)\b`),
			regexp.MustCompile(`(?i)\bdeadline\s+\w+`),
			regexp.MustCompile(`(?i)\b(?:frist|termin)\s+\w+`),
		},
	}
}
