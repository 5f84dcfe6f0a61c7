package util

import (
	"strings"
	"unicode"
)

// DisplaySnippet flattens s to a single printable line of at most maxRunes.
// Used for job labels and log attributes.
func DisplaySnippet(s string, maxRunes int) string {
	return trimClean(s, maxRunes)
}

// Excerpt bounds s to maxRunes while keeping line structure, so markdown
// headings and lists survive. The cut lands on the last whitespace before
// the limit when one exists.
func Excerpt(s string, maxRunes int) string {
	s = CleanExtractedText(s)
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := runes[:maxRunes]
	for i := len(cut) - 1; i > maxRunes/2; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimSpace(string(cut)) + "..."
}

func trimClean(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 420
	}
	s = CleanExtractedText(s)
	s = normalizeWhitespace(s)

	out := make([]rune, 0, len(s))
	for _, r := range s {
		if !unicode.IsPrint(r) {
			continue
		}
		out = append(out, r)
	}
	trimmed := strings.TrimSpace(string(out))
	runes := []rune(trimmed)
	if len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes])) + "..."
	}
	return trimmed
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
