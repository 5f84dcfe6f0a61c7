package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"paperlens/internal/attachment"
	"paperlens/internal/config"
	"paperlens/internal/logging"
	"paperlens/internal/models"
	"paperlens/internal/providers"
)

// DefaultFallbackModels follow the configured native model, in order.
var DefaultFallbackModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

type ProviderFactory interface {
	ProviderFor(s config.ProviderSettings) (providers.LLMProvider, error)
}

// CallRecorder receives one record per provider attempt.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec models.CallRecord) error
}

// Call is one logical request from an orchestrator operation.
type Call struct {
	Operation         string
	Prompt            string
	SystemInstruction string
	JSONMode          bool
	// AllowSearch false forces grounding off whatever the settings say.
	AllowSearch bool
	Temperature float64
	Attachment  *attachment.File
}

type Options struct {
	Retry          RetryPolicy
	FallbackModels []string
	// Limiter gates every attempt, retries and fallbacks included. Nil disables.
	Limiter  *rate.Limiter
	Recorder CallRecorder
	Logger   *slog.Logger
}

type Dispatcher struct {
	factory   ProviderFactory
	retry     RetryPolicy
	fallbacks []string
	limiter   *rate.Limiter
	recorder  CallRecorder
	log       *slog.Logger
}

func New(factory ProviderFactory, opts Options) *Dispatcher {
	fallbacks := opts.FallbackModels
	if fallbacks == nil {
		fallbacks = DefaultFallbackModels
	}
	return &Dispatcher{
		factory:   factory,
		retry:     opts.Retry,
		fallbacks: fallbacks,
		limiter:   opts.Limiter,
		recorder:  opts.Recorder,
		log:       logging.Component(opts.Logger, "dispatch"),
	}
}

// NewLimiter converts a requests-per-minute budget into a limiter; 0 or less
// returns nil.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Dispatch sends call using the settings snapshot s. For the native provider
// it walks the model fallback chain on quota or overload; compatible
// providers get the retry policy only.
func (d *Dispatcher) Dispatch(ctx context.Context, s config.ProviderSettings, call Call) (providers.Response, error) {
	if !s.Configured() {
		return providers.Response{}, &providers.ProviderError{
			Kind:     providers.KindConfiguration,
			Provider: string(s.Provider),
			Message:  "api key missing; configure a provider first",
		}
	}
	provider, err := d.factory.ProviderFor(s)
	if err != nil {
		return providers.Response{}, err
	}
	req := providers.Request{
		Operation:         call.Operation,
		Prompt:            call.Prompt,
		SystemInstruction: call.SystemInstruction,
		JSONMode:          call.JSONMode,
		EnableSearch:      s.EnableSearch && call.AllowSearch,
		Temperature:       call.Temperature,
		Attachment:        call.Attachment,
	}

	chain := []string{""}
	if s.Provider.Native() {
		chain = FallbackChain(s.Model, d.fallbacks)
		if len(chain) == 0 {
			return providers.Response{}, &providers.ProviderError{Kind: providers.KindConfiguration, Provider: string(s.Provider), Message: "no model configured"}
		}
	}

	var lastErr error
	for i, model := range chain {
		if ctx.Err() != nil {
			return providers.Response{}, Aborted(ctx)
		}
		req.Model = model
		attempt := 0
		resp, err := Retry(ctx, d.retry, func(ctx context.Context) (providers.Response, error) {
			attempt++
			return d.attempt(ctx, provider, s, req, attempt)
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		kind := providers.Classify(err)
		if !kind.FallbackEligible() {
			return providers.Response{}, err
		}
		if i+1 < len(chain) {
			d.log.Warn("model unavailable, falling back",
				"operation", call.Operation, "model", model, "next_model", chain[i+1], "kind", kind)
		}
	}
	return providers.Response{}, lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, p providers.LLMProvider, s config.ProviderSettings, req providers.Request, attempt int) (providers.Response, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return providers.Response{}, Aborted(ctx)
			}
			return providers.Response{}, &providers.ProviderError{Kind: providers.KindQuota, Provider: string(s.Provider), Model: req.Model, Message: "local rate limit", Err: err}
		}
	}
	start := time.Now()
	resp, info, err := p.Generate(ctx, req)
	elapsed := time.Since(start)

	model := info.Model
	if model == "" {
		model = req.Model
	}
	rec := models.CallRecord{
		CallID:     uuid.NewString(),
		Operation:  req.Operation,
		Provider:   string(s.Provider),
		Model:      model,
		Status:     models.CallStatusOK,
		Attempt:    attempt,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  start.UTC(),
	}
	if err != nil {
		rec.Status = models.CallStatusFailed
		rec.ErrorKind = string(providers.Classify(err))
		d.log.Warn("provider call failed",
			"operation", req.Operation, "provider", rec.Provider, "model", model,
			"attempt", attempt, "kind", rec.ErrorKind, "duration_ms", rec.DurationMS, "error", err)
	} else {
		d.log.Debug("provider call ok",
			"operation", req.Operation, "provider", rec.Provider, "model", model,
			"attempt", attempt, "duration_ms", rec.DurationMS, "sources", len(resp.Sources))
	}
	if d.recorder != nil {
		// Recorded even when ctx was cancelled.
		if rerr := d.recorder.RecordCall(context.WithoutCancel(ctx), rec); rerr != nil {
			d.log.Warn("record call failed", "call_id", rec.CallID, "error", rerr)
		}
	}
	return resp, err
}

// FallbackChain puts primary first, then fallbacks, dropping blanks and repeats.
func FallbackChain(primary string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]struct{}, len(fallbacks)+1)
	for _, m := range append([]string{primary}, fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
