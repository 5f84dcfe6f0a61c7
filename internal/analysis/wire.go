package analysis

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Models are loose with JSON types: years arrive as numbers, booleans as
// "true", single strings where a list was asked for. These types accept both.

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = flexString(strings.Join(list, ", "))
		return nil
	}
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*f = ""
		return nil
	}
	*f = flexString(raw)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := strconv.ParseBool(strings.TrimSpace(s))
		if perr == nil {
			*f = flexBool(parsed)
			return nil
		}
		*f = flexBool(strings.EqualFold(strings.TrimSpace(s), "yes"))
		return nil
	}
	*f = false
	return nil
}

type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		out := []string{}
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*f = out
		return nil
	}
	*f = []string{}
	return nil
}
