package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	mentionPattern = regexp.MustCompile(`<@!?[0-9A-Za-z_\-]+>`)
)

// RedactPII masks common high-risk PII patterns and chat mention tokens.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	// Mentions carry numeric user ids; strip them before the phone pattern
	// sees the digits.
	next := mentionPattern.ReplaceAllString(out, "[MENTION]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// LogPreview redacts s and cuts it to at most maxRunes runes for log fields.
func LogPreview(s string, maxRunes int) string {
	s, _ = RedactPII(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	if maxRunes <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "…"
	}
	return s
}
