package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"paperlens/internal/attachment"
	"paperlens/internal/config"
)

const groundedBody = `{
  "candidates": [{
    "content": {"parts": [{"text": "thinking", "thought": true}, {"text": "Summary "}, {"text": "of X"}]},
    "finishReason": "STOP",
    "groundingMetadata": {"groundingChunks": [
      {"web": {"uri": "https://arxiv.org/abs/1", "title": "arXiv"}},
      {"web": {"uri": "https://arxiv.org/abs/1", "title": "dup"}},
      {"retrievedContext": {}},
      {"web": {"uri": "https://scholar.test/2", "title": ""}}
    ]}
  }]
}`

func TestNativeGenerateGrounded(t *testing.T) {
	var got geminiRequest
	var key, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-goog-api-key")
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(groundedBody))
	}))
	defer srv.Close()

	p := NewNativeProvider(config.ProviderSettings{Provider: config.ProviderGemini, APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-2.5-pro"}, srv.Client())
	resp, info, err := p.Generate(context.Background(), Request{
		Prompt:            "summarize X",
		SystemInstruction: "sys",
		JSONMode:          true,
		EnableSearch:      true,
		Model:             "gemini-2.5-flash",
		Temperature:       0.3,
		Attachment:        &attachment.File{Name: "p.pdf", MIMEType: attachment.MIMEPDF, Data: []byte("%PDF-1.4")},
	})
	require.NoError(t, err)
	require.Equal(t, "Summary of X", resp.Text)
	require.Equal(t, []Source{{URI: "https://arxiv.org/abs/1", Title: "arXiv"}, {URI: "https://scholar.test/2", Title: "https://scholar.test/2"}}, resp.Sources)
	require.Equal(t, "gemini-2.5-flash", info.Model)

	require.Equal(t, "g-key", key)
	require.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", path)
	require.Len(t, got.Tools, 1)
	require.Contains(t, got.Tools[0], "google_search")
	require.Empty(t, got.GenerationConfig.ResponseMimeType, "json mime type is not combined with search")
	require.InDelta(t, 0.3, got.GenerationConfig.Temperature, 1e-9)
	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.Contents[0].Parts, 2)
	require.Equal(t, attachment.MIMEPDF, got.Contents[0].Parts[0].InlineData.MimeType)
}

func TestNativeGenerateNoGrounding(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":1}"}]}}]}`))
	}))
	defer srv.Close()

	p := NewNativeProvider(config.ProviderSettings{APIKey: "k", BaseURL: srv.URL, Model: "gemini-2.5-pro"}, srv.Client())
	resp, _, err := p.Generate(context.Background(), Request{Prompt: "q", JSONMode: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Sources)
	require.Empty(t, resp.Sources)
	require.Empty(t, got.Tools)
	require.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
}

func TestNativeErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   ErrorKind
	}{
		{429, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, KindQuota},
		{503, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`, KindOverloaded},
		{403, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, KindAuth},
		{500, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`, KindTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		p := NewNativeProvider(config.ProviderSettings{APIKey: "k", BaseURL: srv.URL, Model: "m"}, srv.Client())
		_, _, err := p.Generate(context.Background(), Request{Prompt: "q"})
		srv.Close()
		var pe *ProviderError
		require.True(t, errors.As(err, &pe))
		require.Equal(t, tc.kind, pe.Kind, "status %d", tc.status)
	}
}

func TestNativeBlockedPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()
	p := NewNativeProvider(config.ProviderSettings{APIKey: "k", BaseURL: srv.URL, Model: "m"}, srv.Client())
	_, _, err := p.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SAFETY")
	require.Equal(t, KindUnknown, Classify(err))
}

func TestManagerBuildsAdapters(t *testing.T) {
	m := NewManager(config.Config{HTTPTimeoutSecs: 5})
	p, err := m.ProviderFor(config.ProviderSettings{Provider: config.ProviderGemini})
	require.NoError(t, err)
	require.IsType(t, &NativeProvider{}, p)

	p, err = m.ProviderFor(config.ProviderSettings{Provider: config.ProviderZhipu})
	require.NoError(t, err)
	require.IsType(t, &CompatProvider{}, p)

	_, err = m.ProviderFor(config.ProviderSettings{Provider: "acme"})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestMockProviderOperations(t *testing.T) {
	p := NewMockProvider("")
	resp, info, err := p.Generate(context.Background(), Request{Operation: "follow_up", Prompt: "q"})
	require.NoError(t, err)
	require.Equal(t, "mock", info.Name)
	require.Contains(t, resp.Text, "<final_answer>")
	require.Empty(t, resp.Sources)

	resp, _, err = p.Generate(context.Background(), Request{Operation: "analyze_paper", Prompt: "q", EnableSearch: true})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
}
