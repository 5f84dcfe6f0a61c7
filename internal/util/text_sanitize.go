package util

import (
	"strings"
	"unicode"
)

// CleanExtractedText prepares document text for a prompt: NUL, replacement
// runes and other controls are dropped, trailing spaces are trimmed per line,
// and runs of blank lines collapse to one.
func CleanExtractedText(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	blank := 0
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		line = strings.TrimRightFunc(strings.Map(keepRune, line), unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func keepRune(r rune) rune {
	switch {
	case r == '\t':
		return r
	case r == unicode.ReplacementChar, r == '\uFEFF':
		return -1
	case unicode.IsControl(r):
		return -1
	}
	return r
}
