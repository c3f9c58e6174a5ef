package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrDecode wraps every failure to salvage model output. Callers log the
// raw response (truncated) and surface a generic parse-failure message.
var ErrDecode = errors.New("extract: failed to parse model response")

var (
	fenceRe         = regexp.MustCompile("```(?:json)?")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Decode parses LLM output into a Record, tolerating the two failure modes
// models actually produce: markdown fences around the JSON and trailing
// commas inside it.
//
//  1. Trim and strip every ``` / ```json fence.
//  2. Strict parse; return on success.
//  3. Take the substring from the first '{' to the last '}'. Missing or
//     inverted braces fail.
//  4. Remove trailing commas before '}' or ']'.
//  5. Strict parse the cleaned candidate; propagate failure.
func Decode(raw string) (*Record, error) {
	cleaned := strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))

	var rec Record
	if err := json.Unmarshal([]byte(cleaned), &rec); err == nil {
		rec.normalize()
		return &rec, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, ErrDecode
	}
	candidate := trailingCommaRe.ReplaceAllString(cleaned[start:end+1], "$1")

	if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
		return nil, ErrDecode
	}
	rec.normalize()
	return &rec, nil
}
