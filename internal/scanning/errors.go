package scanning

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrMissingAPIKey is returned when a provider is constructed without credentials
var ErrMissingAPIKey = errors.New("model api key is required")

// ModelError wraps any failure at the model boundary: transport, auth,
// quota, timeout or an empty answer.
type ModelError struct {
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ParseError means the model answered with something that is not a JSON object.
// Raw keeps the original answer for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model response: %v (raw: %s)", e.Err, truncate(e.Raw, 200))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// truncate cuts s to at most maxLen bytes without splitting a rune
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
