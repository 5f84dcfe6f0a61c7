package providers

import (
	"context"

	"paperlens/internal/attachment"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Source is one grounding citation returned alongside generated text.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Request is the provider-agnostic unit of work. Model overrides the
// adapter's configured model when non-empty.
type Request struct {
	Operation         string           `json:"operation"`
	Prompt            string           `json:"prompt"`
	SystemInstruction string           `json:"systemInstruction"`
	JSONMode          bool             `json:"jsonMode"`
	EnableSearch      bool             `json:"enableSearch"`
	Model             string           `json:"model,omitempty"`
	Temperature       float64          `json:"temperature"`
	Attachment        *attachment.File `json:"-"`
}

type Response struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req Request) (Response, ProviderInfo, error)
}

func dedupeSources(in []Source) []Source {
	out := make([]Source, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s.URI == "" {
			continue
		}
		if _, ok := seen[s.URI]; ok {
			continue
		}
		seen[s.URI] = struct{}{}
		if s.Title == "" {
			s.Title = s.URI
		}
		out = append(out, s)
	}
	return out
}
