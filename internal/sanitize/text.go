// Package sanitize turns untrusted upstream values into markup-safe ones.
//
// Text is escaped exactly once, when the ViewModel is built. Templates must
// never escape again, so the functions here are not idempotent on purpose:
// EscapeText("&amp;") yields "&amp;amp;".
package sanitize

import (
	"strings"
)

var textReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

// EscapeText replaces the five markup-special characters with entities.
// Line breaks and tabs become spaces; other characters that XML 1.0 forbids
// are dropped.
func EscapeText(s string) string {
	if s == "" {
		return ""
	}
	return textReplacer.Replace(strings.Map(xmlRune, s))
}

// xmlRune maps a rune to its XML-safe form, or -1 to drop it.
func xmlRune(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return ' '
	case r < 0x20:
		return -1
	case r >= 0xD800 && r <= 0xDFFF:
		return -1
	case r == 0xFFFE || r == 0xFFFF:
		return -1
	}
	return r
}
