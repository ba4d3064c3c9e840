package extraction

import "strings"

// Classifier assigns a Status from the textual values of an extraction
type Classifier interface {
	Classify(texts []string) Status
}

// KeywordClassifier matches case-insensitive keyword triggers. Quote
// keywords win over open keywords, which win over settled keywords, so
// "unbezahlt" is not taken for "bezahlt".
type KeywordClassifier struct {
	Quote   []string
	Open    []string
	Settled []string
}

// NewKeywordClassifier returns a classifier with the German and English defaults
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		Quote:   []string{"angebot", "kostenvoranschlag", "quote", "estimate"},
		Open:    []string{"unbezahlt", "nicht bezahlt", "offen", "unpaid", "not paid"},
		Settled: []string{"bezahlt", "beglichen", "quittung", "kartenzahlung", "ec-karte", "paid"},
	}
}

func (k *KeywordClassifier) Classify(texts []string) Status {
	lowered := make([]string, len(texts))
	for i, t := range texts {
		lowered[i] = strings.ToLower(t)
	}

	switch {
	case containsAny(lowered, k.Quote):
		return StatusQuote
	case containsAny(lowered, k.Open):
		return StatusOpen
	case containsAny(lowered, k.Settled):
		return StatusSettled
	default:
		return StatusOpen
	}
}

func containsAny(texts []string, keywords []string) bool {
	for _, t := range texts {
		for _, kw := range keywords {
			if strings.Contains(t, kw) {
				return true
			}
		}
	}
	return false
}
