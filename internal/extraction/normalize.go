package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Keys of the JSON object the model is asked to return
const (
	keyDate          = "datum"
	keyInvoiceNumber = "rechnungsnummer"
	keyAmount        = "betrag"
	keyAmountTotal   = "betrag_gesamt"
	keyGross         = "brutto"
	keyNet           = "netto"
	keyTax           = "steuer"
	keyVATRate       = "ust_satz"
	keyVendor        = "lieferant"
	keyCategory      = "kategorie"
	keyDescription   = "beschreibung"
	keyIBAN          = "iban"
	keyPaymentStatus = "zahlungsstatus"
)

// dateLayouts are tried in order; ISO first since the prompt asks for it
var dateLayouts = []string{
	time.DateOnly,
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"2006/01/02",
	"02/01/2006",
	time.RFC3339,
}

// Normalizer coerces the model's key/value bag into a Record
type Normalizer struct {
	classifier Classifier
}

// NewNormalizer creates a Normalizer. A nil classifier uses the keyword classifier.
func NewNormalizer(classifier Classifier) *Normalizer {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Normalizer{classifier: classifier}
}

// Normalize never fails: every unusable value falls back to its default
func (n *Normalizer) Normalize(index int, filename string, bag map[string]any) Record {
	return Record{
		Index:         index,
		Filename:      filename,
		Date:          ParseDate(bag[keyDate]),
		InvoiceNumber: CleanText(bag[keyInvoiceNumber]),
		Vendor:        CleanText(bag[keyVendor]),
		Category:      CleanText(bag[keyCategory]),
		Description:   CleanText(bag[keyDescription]),
		Amount:        CleanFloat(firstPresent(bag, keyAmount, keyAmountTotal, keyGross)),
		Net:           CleanFloat(bag[keyNet]),
		Tax:           CleanFloat(bag[keyTax]),
		VATRate:       CleanText(bag[keyVATRate]),
		IBAN:          CleanText(bag[keyIBAN]),
		PaymentStatus: CleanText(bag[keyPaymentStatus]),
		Status:        n.classifier.Classify(textValues(bag)),
	}
}

// firstPresent returns the first value that is set and not a placeholder
func firstPresent(bag map[string]any, keys ...string) any {
	for _, key := range keys {
		v, ok := bag[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && (strings.TrimSpace(s) == "" || strings.TrimSpace(s) == Placeholder) {
			continue
		}
		return v
	}
	return nil
}

// CleanFloat converts a raw amount to a non-negative float, 0.0 on failure.
// Strings are read with a European heuristic: every '.' is a thousands
// separator and ',' is the decimal mark. Dot-decimal strings such as "12.50"
// are therefore read as 1250.
func CleanFloat(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		f = parseEuropean(val)
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Abs(f)
}

func parseEuropean(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" || cleaned == "-" {
		return 0
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseDate returns nil for anything that is not a recognizable date
func ParseDate(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || s == Placeholder {
		return nil
	}

	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
			return &day
		}
	}
	return nil
}

// CleanText returns the trimmed text, or Placeholder for nil, empty and "-"
func CleanText(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return Placeholder
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	default:
		s = fmt.Sprint(val)
	}

	s = strings.TrimSpace(s)
	if s == "" || s == Placeholder {
		return Placeholder
	}
	return s
}

// textValues collects the string values of the bag for classification
func textValues(bag map[string]any) []string {
	texts := make([]string, 0, len(bag))
	for _, v := range bag {
		if s, ok := v.(string); ok && s != "" {
			texts = append(texts, s)
		}
	}
	return texts
}
