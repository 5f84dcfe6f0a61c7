package providers

import (
	"context"
	"fmt"
	"strings"

	"paperlens/internal/util"
)

// MockProvider returns deterministic output keyed on the request operation.
// It backs local development and tests that should not touch the network.
type MockProvider struct {
	model string
}

func NewMockProvider(model string) *MockProvider {
	if strings.TrimSpace(model) == "" {
		model = "mock-llm-v1"
	}
	return &MockProvider{model: model}
}

func (m *MockProvider) Generate(ctx context.Context, req Request) (Response, ProviderInfo, error) {
	model := m.model
	if req.Model != "" {
		model = req.Model
	}
	info := ProviderInfo{Name: "mock", Model: model}
	if err := ctx.Err(); err != nil {
		return Response{}, info, &ProviderError{Kind: KindAborted, Provider: "mock", Model: model, Message: "request aborted", Err: err}
	}

	op := strings.ToLower(req.Operation)
	var text string
	switch {
	case strings.Contains(op, "link"):
		text = `{"url": "https://arxiv.org/abs/2401.00001", "title": "Mock Successor Paper"}`
	case strings.Contains(op, "timeliness"):
		text = `{"isOutdated": false, "status": "Current", "summary": "Deterministic mock assessment.", "recommendations": [{"title": "Mock Successor Paper", "authors": "A. Mock", "year": "2025", "reason": "Most recent follow-up in the mock corpus."}]}`
	case strings.Contains(op, "venue"):
		text = `{"venue": "Mock Conference", "status": "Reputable", "tier": "A", "isPredatory": false, "indexing": ["Mock Index"], "summary": "Deterministic mock venue assessment."}`
	case strings.Contains(op, "integrity"):
		text = `{"status": "Clean", "hasConcerns": false, "summary": "No mock findings.", "findings": []}`
	case strings.Contains(op, "follow"):
		text = "Draft: checking the question against the context.\n<final_answer>**Mock** answer grounded in the provided analysis.</final_answer>"
	case strings.Contains(op, "trend"):
		text = "# Research Trends\n\n## Emerging Themes\n- Deterministic mock trend synthesis."
	default:
		text = fmt.Sprintf("# Analysis\n\n**Query:** %s\n\n## Summary\nDeterministic mock analysis.", util.DisplaySnippet(req.Prompt, 120))
	}

	out := Response{Text: text, Sources: []Source{}}
	if req.EnableSearch {
		out.Sources = []Source{{URI: "https://example.org/mock-source", Title: "Mock source"}}
	}
	return out, info, nil
}
