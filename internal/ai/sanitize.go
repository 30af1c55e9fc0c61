// Package ai implements the analysis pipeline: input sanitization, prompt
// construction, provider clients and response decoding.
package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Character caps applied before any other processing. Bounding input size
// bounds both token cost and injection surface.
const (
	MaxResumeChars = 8000
	MaxJDChars     = 4000
)

// Known prompt-injection trigger phrases, matched case-insensitively after
// angle brackets have been HTML-escaped (hence the &lt;/&gt; forms of the
// chat-template control tokens).
var injectionPattern = regexp.MustCompile(
	`(?i)(ignore previous instructions|ignore all instructions|you are now|act as if|` +
		`disregard your|system prompt|&lt;\|im_start\|&gt;|&lt;\|im_end\|&gt;)`,
)

// Sanitize truncates text to max characters, HTML-escapes angle brackets and
// replaces injection trigger phrases with a literal marker. Pure function.
func Sanitize(text string, max int) string {
	// Character cap, not bytes: slicing bytes would cut multibyte input
	// mid-rune and undershoot the cap.
	if utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max])
	}
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return injectionPattern.ReplaceAllString(text, "[removed]")
}
