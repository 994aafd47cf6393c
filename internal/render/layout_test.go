package render

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatCount(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{9999, "9999"},
		{10000, "1.0万"},
		{12345, "1.2万"},
		{15000, "1.5万"},
		{99999, "10.0万"},
		{1234567, "123.5万"},
	}
	for _, tt := range tests {
		if got := FormatCount(tt.n); got != tt.want {
			t.Errorf("FormatCount(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestGlyphs_EntitiesAreSingleUnits(t *testing.T) {
	got := glyphs("a&amp;b&#39;c&lt;中&bogus d")
	want := []string{"a", "&amp;", "b", "&#39;", "c", "&lt;", "中", "&", "b", "o", "g", "u", "s", " ", "d"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("glyphs = %q\nwant    %q", got, want)
	}
}

func TestSplitText_Short(t *testing.T) {
	lines := SplitText("hello", 12, 3)
	if len(lines) != 3 {
		t.Fatalf("len = %d, want 3", len(lines))
	}
	if lines[0] != "hello" || lines[1] != "" || lines[2] != "" {
		t.Errorf("lines = %q", lines)
	}
}

func TestSplitText_Empty(t *testing.T) {
	lines := SplitText("", 10, 2)
	if len(lines) != 2 || lines[0] != "" || lines[1] != "" {
		t.Errorf("lines = %q", lines)
	}
}

func TestSplitText_BreaksAtPunctuation(t *testing.T) {
	lines := SplitText("今天天气很好，我们去公园玩吧", 8, 2)
	if lines[0] != "今天天气很好，" {
		t.Errorf("line 0 = %q, want break after comma", lines[0])
	}
	if lines[1] != "我们去公园玩吧" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestSplitText_HardBreakWithoutPunctuation(t *testing.T) {
	lines := SplitText("abcdefghij", 4, 2)
	if lines[0] != "abcd" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "efg"+Ellipsis {
		t.Errorf("line 1 = %q, want ellipsis", lines[1])
	}
}

func TestSplitText_Properties(t *testing.T) {
	inputs := []string{
		"",
		"short",
		"这个人很神秘，什么都没有写",
		"a very long signature, with commas. and periods! and more words to wrap around",
		"Tom &amp; Jerry &lt;3 &#39;quoted&#39; text that keeps going and going",
		strings.Repeat("长", 100),
	}
	for _, in := range inputs {
		for _, box := range []TextBox{{12, 3}, {16, 2}, {30, 1}, {1, 1}} {
			lines := SplitText(in, box.MaxLen, box.MaxLines)
			if len(lines) != box.MaxLines {
				t.Errorf("%q %v: %d lines", in, box, len(lines))
			}
			for _, l := range lines {
				if n := len(glyphs(l)); n > box.MaxLen {
					t.Errorf("%q %v: line %q has %d glyphs", in, box, l, n)
				}
				if strings.Count(l, "&") != strings.Count(l, ";") && strings.Contains(in, "&amp;") {
					t.Errorf("%q %v: split entity in %q", in, box, l)
				}
			}
			overflow := len(glyphs(in)) > box.MaxLen*box.MaxLines
			if overflow && !strings.HasSuffix(lines[box.MaxLines-1], Ellipsis) {
				t.Errorf("%q %v: overflow without ellipsis: %q", in, box, lines)
			}
			if !overflow && strings.Join(lines, "") != in {
				t.Errorf("%q %v: fitting text changed: %q", in, box, lines)
			}
		}
	}
}

func TestSplitText_EllipsisReplacesLastGlyph(t *testing.T) {
	lines := SplitText(strings.Repeat("字", 40), 12, 3)
	last := lines[2]
	if utf8.RuneCountInString(last) != 12 {
		t.Errorf("last line = %q (%d runes), want 12", last, utf8.RuneCountInString(last))
	}
	if !strings.HasSuffix(last, Ellipsis) {
		t.Errorf("last line = %q", last)
	}
}

func TestSplitText_DegenerateBoxes(t *testing.T) {
	if got := SplitText("abc", 5, 0); got != nil {
		t.Errorf("maxLines 0 = %q, want nil", got)
	}
	if got := SplitText("abc", 0, 2); len(got) != 2 || got[0] != "" {
		t.Errorf("maxLen 0 = %q", got)
	}
}
