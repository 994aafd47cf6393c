package render

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

const breakGlyphs = "，。,.!?;；"

// glyphs splits pre-escaped text into display units. A character reference
// such as "&amp;" or "&#39;" is one unit and is never split.
func glyphs(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for i := 0; i < len(s); {
		if s[i] == '&' {
			if n := entityLen(s[i:]); n > 0 {
				out = append(out, s[i:i+n])
				i += n
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		out = append(out, s[i:i+size])
		i += size
	}
	return out
}

// entityLen returns the byte length of a character reference at the start of
// s, or 0 if there is none.
func entityLen(s string) int {
	end := strings.IndexByte(s, ';')
	if end < 2 || end > 10 {
		return 0
	}
	body := s[1:end]
	if body[0] == '#' {
		digits := body[1:]
		hex := false
		if len(digits) > 0 && (digits[0] == 'x' || digits[0] == 'X') {
			digits, hex = digits[1:], true
		}
		if digits == "" {
			return 0
		}
		for _, r := range digits {
			isDigit := r >= '0' && r <= '9'
			isHex := (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			if !isDigit && !(hex && isHex) {
				return 0
			}
		}
		return end + 1
	}
	for _, r := range body {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') {
			return 0
		}
	}
	return end + 1
}

func isBreak(g string) bool {
	return g == " " || (utf8.RuneCountInString(g) == 1 && strings.Contains(breakGlyphs, g))
}

// SplitText wraps text into exactly maxLines lines of at most maxLen glyphs.
// A line breaks after the last punctuation or space at or before the limit,
// or hard at the limit when there is none. When text remains after the last
// line, that line's final glyph becomes "…".
func SplitText(text string, maxLen, maxLines int) []string {
	if maxLines <= 0 {
		return nil
	}
	lines := make([]string, maxLines)
	if maxLen <= 0 {
		return lines
	}

	rest := glyphs(text)
	for i := 0; i < maxLines && len(rest) > 0; i++ {
		if len(rest) <= maxLen {
			lines[i] = strings.Join(rest, "")
			rest = nil
			break
		}
		cut := maxLen
		for j := maxLen - 1; j > 0; j-- {
			if isBreak(rest[j]) {
				cut = j + 1
				break
			}
		}
		lines[i] = strings.Join(rest[:cut], "")
		rest = rest[cut:]
	}

	if len(rest) > 0 {
		last := glyphs(lines[maxLines-1])
		if len(last) > 0 {
			last = last[:len(last)-1]
		}
		lines[maxLines-1] = strings.Join(last, "") + Ellipsis
	}
	return lines
}

// FormatCount renders counts of ten thousand and above with one decimal and
// the 万 unit, e.g. 12345 → "1.2万". Smaller counts are plain integers.
func FormatCount(n int64) string {
	if n >= 10000 {
		return strconv.FormatFloat(float64(n)/10000, 'f', 1, 64) + "万"
	}
	return strconv.FormatInt(n, 10)
}
