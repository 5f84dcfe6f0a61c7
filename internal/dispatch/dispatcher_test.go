package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paperlens/internal/config"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/providers"
)

// scriptedProvider answers per model from a table and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	byModel  map[string]func(req providers.Request) (providers.Response, error)
	requests []providers.Request
}

func (p *scriptedProvider) Generate(ctx context.Context, req providers.Request) (providers.Response, providers.ProviderInfo, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	fn := p.byModel[req.Model]
	p.mu.Unlock()
	info := providers.ProviderInfo{Name: "scripted", Model: req.Model}
	if fn == nil {
		return providers.Response{Text: "default"}, info, nil
	}
	resp, err := fn(req)
	return resp, info, err
}

func (p *scriptedProvider) models() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Model)
	}
	return out
}

type staticFactory struct{ p providers.LLMProvider }

func (f staticFactory) ProviderFor(config.ProviderSettings) (providers.LLMProvider, error) {
	return f.p, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []models.CallRecord
}

func (m *memRecorder) RecordCall(_ context.Context, rec models.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestDispatcher(p providers.LLMProvider, rec CallRecorder) *Dispatcher {
	return New(staticFactory{p}, Options{
		Retry:          RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, Sleep: noSleep},
		FallbackModels: []string{"m2", "m3"},
		Recorder:       rec,
		Logger:         logging.Discard(),
	})
}

var nativeSettings = config.ProviderSettings{Provider: config.ProviderGemini, APIKey: "k", Model: "m1", EnableSearch: true}

func quotaErr() error {
	return &providers.ProviderError{Kind: providers.KindQuota, Status: 429, Message: "quota"}
}

func TestDispatchFallbackOnQuota(t *testing.T) {
	p := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"m1": func(providers.Request) (providers.Response, error) { return providers.Response{}, quotaErr() },
		"m2": func(providers.Request) (providers.Response, error) { return providers.Response{Text: "from m2"}, nil },
		"m3": func(providers.Request) (providers.Response, error) { return providers.Response{Text: "from m3"}, nil },
	}}
	rec := &memRecorder{}
	resp, err := newTestDispatcher(p, rec).Dispatch(context.Background(), nativeSettings, Call{Operation: "analyze_paper", Prompt: "x", AllowSearch: true})
	require.NoError(t, err)
	require.Equal(t, "from m2", resp.Text)
	require.Equal(t, []string{"m1", "m2"}, p.models(), "m3 must never be invoked")
	require.Len(t, rec.recs, 2)
	require.Equal(t, models.CallStatusFailed, rec.recs[0].Status)
	require.Equal(t, string(providers.KindQuota), rec.recs[0].ErrorKind)
	require.Equal(t, models.CallStatusOK, rec.recs[1].Status)
}

func TestDispatchFatalStopsChain(t *testing.T) {
	fatal := &providers.ProviderError{Kind: providers.KindAuth, Status: 401, Message: "bad key"}
	p := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"m1": func(providers.Request) (providers.Response, error) { return providers.Response{}, fatal },
	}}
	_, err := newTestDispatcher(p, nil).Dispatch(context.Background(), nativeSettings, Call{Prompt: "x"})
	require.Same(t, fatal, err)
	require.Equal(t, []string{"m1"}, p.models())
}

func TestDispatchExhaustedReturnsLastError(t *testing.T) {
	last := &providers.ProviderError{Kind: providers.KindOverloaded, Status: 503, Message: "m3 overloaded"}
	p := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"m1": func(providers.Request) (providers.Response, error) { return providers.Response{}, quotaErr() },
		"m2": func(providers.Request) (providers.Response, error) { return providers.Response{}, quotaErr() },
		"m3": func(providers.Request) (providers.Response, error) { return providers.Response{}, last },
	}}
	_, err := newTestDispatcher(p, nil).Dispatch(context.Background(), nativeSettings, Call{Prompt: "x"})
	require.Same(t, last, err)
	// m3 is overloaded, so it is retried twice before the chain ends.
	require.Equal(t, []string{"m1", "m2", "m3", "m3", "m3"}, p.models())
}

func TestDispatchCompatibleHasNoFallback(t *testing.T) {
	p := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"": func(providers.Request) (providers.Response, error) { return providers.Response{}, quotaErr() },
	}}
	s := config.ProviderSettings{Provider: config.ProviderOpenRouter, APIKey: "k", Model: "custom/model"}
	_, err := newTestDispatcher(p, nil).Dispatch(context.Background(), s, Call{Prompt: "x"})
	require.ErrorIs(t, err, providers.ErrQuotaExceeded)
	require.Equal(t, []string{""}, p.models())
}

func TestDispatchMissingKey(t *testing.T) {
	p := &scriptedProvider{}
	_, err := newTestDispatcher(p, nil).Dispatch(context.Background(), config.ProviderSettings{Provider: config.ProviderGemini, Model: "m1"}, Call{Prompt: "x"})
	require.ErrorIs(t, err, providers.ErrNotConfigured)
	require.Empty(t, p.models())
}

func TestDispatchSearchFlag(t *testing.T) {
	cases := []struct {
		settingsSearch, allow, want bool
	}{
		{true, true, true},
		{true, false, false},
		{false, true, false},
	}
	for _, tc := range cases {
		p := &scriptedProvider{}
		s := nativeSettings
		s.EnableSearch = tc.settingsSearch
		_, err := newTestDispatcher(p, nil).Dispatch(context.Background(), s, Call{Prompt: "x", AllowSearch: tc.allow})
		require.NoError(t, err)
		require.Equal(t, tc.want, p.requests[0].EnableSearch)
	}
}

func TestDispatchSourcesPassThrough(t *testing.T) {
	grounded := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"m1": func(req providers.Request) (providers.Response, error) {
			if !req.EnableSearch {
				return providers.Response{Text: "ungrounded", Sources: []providers.Source{}}, nil
			}
			return providers.Response{Text: "grounded", Sources: []providers.Source{{URI: "https://a.test", Title: "A"}}}, nil
		},
	}}
	d := newTestDispatcher(grounded, nil)
	resp, err := d.Dispatch(context.Background(), nativeSettings, Call{Prompt: "summarize X", AllowSearch: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)

	resp, err = d.Dispatch(context.Background(), nativeSettings, Call{Prompt: "summarize X", AllowSearch: false})
	require.NoError(t, err)
	require.Empty(t, resp.Sources)
}

func TestDispatchAbortBetweenCandidates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{byModel: map[string]func(providers.Request) (providers.Response, error){
		"m1": func(providers.Request) (providers.Response, error) {
			cancel()
			return providers.Response{}, quotaErr()
		},
	}}
	_, err := newTestDispatcher(p, nil).Dispatch(ctx, nativeSettings, Call{Prompt: "x"})
	require.True(t, errors.Is(err, providers.ErrAborted), "got %v", err)
	require.Equal(t, []string{"m1"}, p.models())
}

func TestFallbackChain(t *testing.T) {
	require.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, FallbackChain("gemini-2.5-flash", DefaultFallbackModels))
	require.Equal(t, []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.5-flash-lite"}, FallbackChain(" gemini-2.5-pro ", DefaultFallbackModels))
	require.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}, FallbackChain("", DefaultFallbackModels))
}

func TestNewLimiter(t *testing.T) {
	require.Nil(t, NewLimiter(0))
	l := NewLimiter(60)
	require.NotNil(t, l)
	require.True(t, l.Allow())
}
