package scanning

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

const fence = "```"

// ParseResponse turns the model's raw answer into a key/value bag.
// A surrounding markdown fence is dropped first; if the remainder is not a
// JSON object, the span between the first '{' and the last '}' is tried.
func ParseResponse(raw string) (map[string]any, error) {
	text := stripFence(raw)

	data, err := decodeObject(text)
	if err == nil {
		return data, nil
	}

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx != -1 && endIdx > startIdx {
		if inner, innerErr := decodeObject(text[startIdx : endIdx+1]); innerErr == nil {
			return inner, nil
		}
	}

	slog.Debug("Model returned no valid JSON", "raw", truncate(raw, 500))
	return nil, &ParseError{Raw: raw, Err: err}
}

// stripFence drops the first line and, if it is a fence, the last line of
// a fenced answer such as "```json\n{...}\n```"
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, fence) {
		return text
	}

	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), fence) {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func decodeObject(text string) (map[string]any, error) {
	if text == "" {
		return nil, errors.New("empty response")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, err
	}
	// "null" decodes without error into a nil map
	if data == nil {
		return nil, errors.New("response is not a JSON object")
	}
	return data, nil
}
