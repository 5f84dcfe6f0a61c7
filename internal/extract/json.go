// Package extract recovers structured content from free-text model output.
package extract

import (
	"encoding/json"
	"strings"
)

// Pick chooses among several well-formed objects found in one reply.
type Pick int

const (
	// PickLast keeps the final object; models usually put their settled
	// answer after any draft.
	PickLast Pick = iota
	PickFirst
)

func ParsePick(s string) Pick {
	if strings.EqualFold(strings.TrimSpace(s), "first") {
		return PickFirst
	}
	return PickLast
}

func (p Pick) String() string {
	if p == PickFirst {
		return "first"
	}
	return "last"
}

type Extractor struct {
	Pick Pick
}

var defaultExtractor = Extractor{Pick: PickLast}

// JSON extracts with the default last-object policy.
func JSON(text string) (json.RawMessage, bool) {
	return defaultExtractor.JSON(text)
}

// Decode extracts with the default policy and unmarshals into v.
func Decode(text string, v any) bool {
	return defaultExtractor.Decode(text, v)
}

// JSON returns the JSON value carried by text, or false when nothing parses.
// Each stage runs on the reply as sent before its fence-stripped form: the
// whole text, every balanced top-level object chosen by e.Pick, and the span
// from the first '{' to the last '}'. Valid JSON comes back byte for byte.
func (e Extractor) JSON(text string) (json.RawMessage, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, false
	}
	forms := []string{raw}
	if cleaned := strings.TrimSpace(StripFences(raw)); cleaned != "" && cleaned != raw {
		forms = append(forms, cleaned)
	}

	for _, f := range forms {
		if json.Valid([]byte(f)) {
			return json.RawMessage(f), true
		}
	}
	for _, f := range forms {
		if obj, ok := e.pickObject(f); ok {
			return obj, true
		}
	}
	for _, f := range forms {
		first := strings.IndexByte(f, '{')
		last := strings.LastIndexByte(f, '}')
		if first >= 0 && last > first {
			span := f[first : last+1]
			if json.Valid([]byte(span)) {
				return json.RawMessage(span), true
			}
		}
	}
	return nil, false
}

func (e Extractor) pickObject(text string) (json.RawMessage, bool) {
	var valid []string
	for _, c := range ScanObjects(text) {
		if json.Valid([]byte(c)) {
			valid = append(valid, c)
		}
	}
	if len(valid) == 0 {
		return nil, false
	}
	if e.Pick == PickFirst {
		return json.RawMessage(valid[0]), true
	}
	return json.RawMessage(valid[len(valid)-1]), true
}

func (e Extractor) Decode(text string, v any) bool {
	raw, ok := e.JSON(text)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// StripFences removes markdown code fence markers and their language tags.
func StripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for {
		i := strings.Index(text, "```")
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		text = text[i+3:]
		j := 0
		for j < len(text) && isTagByte(text[j]) {
			j++
		}
		text = text[j:]
	}
	return b.String()
}

func isTagByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

type scanState int

const (
	stateNormal scanState = iota
	stateString
	stateEscaped
)

// ScanObjects returns every balanced top-level {...} span in text, in order.
// Braces inside string literals do not count. Quotes only open a string
// inside an object, so apostrophes and quotes in surrounding prose are inert.
// Unclosed objects at the end of text are dropped.
func ScanObjects(text string) []string {
	var out []string
	state := stateNormal
	depth := 0
	start := -1
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch state {
		case stateEscaped:
			state = stateString
		case stateString:
			switch c {
			case '\\':
				state = stateEscaped
			case '"':
				state = stateNormal
			}
		default:
			switch c {
			case '"':
				if depth > 0 {
					state = stateString
				}
			case '{':
				if depth == 0 {
					start = i
				}
				depth++
			case '}':
				if depth > 0 {
					depth--
					if depth == 0 {
						out = append(out, text[start:i+1])
						start = -1
					}
				}
			}
		}
	}
	return out
}
