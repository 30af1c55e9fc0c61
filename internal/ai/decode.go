package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// decodeSnippetLen bounds how much raw provider output a DecodeError keeps
// for diagnostics. Never surfaced to end users verbatim.
const decodeSnippetLen = 300

// DecodeError reports a provider response that could not be parsed as JSON.
type DecodeError struct {
	Provider string
	Snippet  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ai provider %s returned a non-JSON response: %s", e.Provider, e.Snippet)
}

// ResultPayload is the clamped, fully-defaulted analysis result.
type ResultPayload struct {
	MatchScore       int
	HireProbability  float64
	ATSFlags         []string
	RewrittenBullets []string
	CoverLetter      string
}

var (
	openingFence = regexp.MustCompile("^```[a-zA-Z]*\n?")
	closingFence = regexp.MustCompile("\n?```$")
)

// stripFences removes a surrounding markdown code fence if the model wrapped
// the JSON despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = openingFence.ReplaceAllString(text, "")
		text = closingFence.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Decode parses a raw provider completion into a ResultPayload. A response
// that is not a JSON object fails with *DecodeError. A valid object is never
// rejected for missing or out-of-range fields: the schema in the prompt is
// advisory, so every field is coerced, defaulted and clamped instead.
func Decode(provider, raw string) (ResultPayload, error) {
	raw = stripFences(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		snippet := raw
		if utf8.RuneCountInString(snippet) > decodeSnippetLen {
			snippet = string([]rune(snippet)[:decodeSnippetLen])
		}
		return ResultPayload{}, &DecodeError{Provider: provider, Snippet: snippet}
	}

	return ResultPayload{
		MatchScore:       clampInt(coerceFloat(fields["match_score"]), 0, 100),
		HireProbability:  clampFloat(coerceFloat(fields["hire_probability"]), 0.0, 1.0),
		ATSFlags:         coerceStrings(fields["ats_flags"]),
		RewrittenBullets: coerceStrings(fields["rewritten_bullets"]),
		CoverLetter:      coerceString(fields["cover_letter"]),
	}, nil
}

// coerceFloat reads a numeric field, tolerating numbers and numeric strings.
// Absent or unparseable values yield 0.
func coerceFloat(raw json.RawMessage) float64 {
	if raw == nil {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return n
		}
	}
	return 0
}

func coerceString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// coerceStrings reads a string array, dropping non-string elements.
func coerceStrings(raw json.RawMessage) []string {
	if raw == nil {
		return []string{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
		}
	}
	return result
}

func clampInt(n float64, lo, hi int) int {
	v := int(n)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(n, lo, hi float64) float64 {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
