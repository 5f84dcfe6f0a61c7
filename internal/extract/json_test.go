package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONIdempotentOnCleanInput(t *testing.T) {
	values := []any{
		map[string]any{"a": float64(1), "b": []any{"x", true, nil}},
		[]any{float64(1), float64(2)},
		"plain string",
		float64(3.5),
		map[string]any{"nested": map[string]any{"brace": "}{", "quote": `he said "hi"`}},
	}
	for _, v := range values {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw, ok := JSON(string(b))
		require.True(t, ok)
		var got any
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, v, got)
	}
}

func TestJSONRoundTripIsExact(t *testing.T) {
	cases := []struct {
		name string
		v    any
	}{
		{"fence in string", map[string]any{"code": "```go\nfmt.Println(1)\n```"}},
		{"bare backticks", map[string]any{"md": "use ``` to open a block", "n": float64(2)}},
		{"braces and escaped quotes", map[string]any{"t": `a } b { "c" \ d`, "list": []any{"{", "}"}}},
		{"fence in array", []any{"```json\n{\"x\":1}\n```", float64(7)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.v)
			require.NoError(t, err)
			raw, ok := JSON(string(b))
			require.True(t, ok)
			require.Equal(t, string(b), string(raw))

			raw, ok = Extractor{Pick: PickFirst}.JSON("  " + string(b) + "\n")
			require.True(t, ok)
			require.Equal(t, string(b), string(raw))
		})
	}
}

func TestJSONFencedReplyQuotingCode(t *testing.T) {
	inner := `{"answer":"Run:\n` + "```sh\\nmake\\n```" + `"}`
	raw, ok := JSON("Sure.\n```json\n" + inner + "\n```")
	require.True(t, ok)
	require.Equal(t, inner, string(raw))
}

func TestJSONLastObjectWins(t *testing.T) {
	raw, ok := JSON(`{"a":1}{"b":2}`)
	require.True(t, ok)
	require.JSONEq(t, `{"b":2}`, string(raw))
}

func TestJSONPickFirst(t *testing.T) {
	raw, ok := Extractor{Pick: PickFirst}.JSON(`{"a":1}{"b":2}`)
	require.True(t, ok)
	require.JSONEq(t, `{"a":1}`, string(raw))
}

func TestJSONTolerance(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fenced with tag", "```json\n{\"status\":\"Current\"}\n```", `{"status":"Current"}`},
		{"fenced no tag", "```\n{\"x\":[1,2]}\n```", `{"x":[1,2]}`},
		{"prose around", "Here is my answer: {\"ok\":true} Hope it helps!", `{"ok":true}`},
		{"thought then answer", "Thought: {\"draft\":\"x\"}\nFinal: {\"answer\":\"y\"}", `{"answer":"y"}`},
		{"braces in strings", `noise {"t":"a } b { c","n":{"k":"\"}"}} tail`, `{"t":"a } b { c","n":{"k":"\"}"}}`},
		{"apostrophe in prose", `It's done: {"v":1}`, `{"v":1}`},
		{"skip broken candidate", `{"a":} {"b":2} {"c":`, `{"b":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := JSON(tc.in)
			require.True(t, ok)
			require.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestJSONTrailingBrace(t *testing.T) {
	raw, ok := JSON("{\"a\": {\"b\": 1}} }")
	require.True(t, ok)
	require.JSONEq(t, `{"a":{"b":1}}`, string(raw))

	raw, ok = JSON(`answer: {"a":"x\"}"} trailing }`)
	require.True(t, ok)
	require.JSONEq(t, `{"a":"x\"}"}`, string(raw))
}

func TestJSONGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "no json here", "{{{", "}{", "{'single': 'quotes'}", "```\n```"} {
		require.NotPanics(t, func() {
			raw, ok := JSON(in)
			require.False(t, ok, "input %q", in)
			require.Nil(t, raw)
		})
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Status string `json:"status"`
	}
	require.True(t, Decode("```json\n{\"status\":\"Unknown\"}\n```", &out))
	require.Equal(t, "Unknown", out.Status)
	require.False(t, Decode("not json", &out))
	require.False(t, Decode(`{"status": 3}`, &out))
}

func TestScanObjects(t *testing.T) {
	got := ScanObjects(`a {"x":{"y":1}} b {"z":"}"} c {"open":`)
	require.Equal(t, []string{`{"x":{"y":1}}`, `{"z":"}"}`}, got)
	require.Empty(t, ScanObjects("no objects"))
}

func TestParsePick(t *testing.T) {
	require.Equal(t, PickFirst, ParsePick(" FIRST "))
	require.Equal(t, PickLast, ParsePick("last"))
	require.Equal(t, PickLast, ParsePick(""))
	require.Equal(t, "first", PickFirst.String())
}
