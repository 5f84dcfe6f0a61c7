package extract

import (
	"regexp"
	"strings"
)

const (
	FinalAnswerOpen  = "<final_answer>"
	FinalAnswerClose = "</final_answer>"
)

// FinalAnswer returns the content of the first open/close pair. Without a
// complete pair the whole text is returned with stray delimiter tokens removed.
func FinalAnswer(text, open, close string) string {
	if i := strings.Index(text, open); i >= 0 {
		rest := text[i+len(open):]
		if j := strings.Index(rest, close); j >= 0 {
			if inner := strings.TrimSpace(rest[:j]); inner != "" {
				return inner
			}
		}
	}
	text = strings.ReplaceAll(text, open, "")
	text = strings.ReplaceAll(text, close, "")
	return strings.TrimSpace(text)
}

var (
	boldMarkers = strings.NewReplacer("**", "", "__", "", "~~", "")
	italicStar  = regexp.MustCompile(`(^|[\s(])\*(\S(?:[^*\n]*\S)?)\*([\s).,;:!?]|$)`)
	italicUnder = regexp.MustCompile(`(^|[\s(])_(\S(?:[^_\n]*\S)?)_([\s).,;:!?]|$)`)
)

// StripEmphasis removes bold, italic and strike-through markup. List bullets
// ("* item") are left alone.
func StripEmphasis(text string) string {
	text = boldMarkers.Replace(text)
	text = stripItalic(italicStar, text)
	text = stripItalic(italicUnder, text)
	return text
}

// stripItalic repeats until stable: a match consumes the space after it, so
// "*a* *b*" needs a second pass for b.
func stripItalic(re *regexp.Regexp, text string) string {
	for {
		next := re.ReplaceAllString(text, "$1$2$3")
		if next == text {
			return text
		}
		text = next
	}
}
