package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"paperlens/internal/config"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// NativeProvider calls the Gemini generateContent REST API, which can run a
// Google Search tool and report grounding citations.
type NativeProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewNativeProvider(s config.ProviderSettings, client *http.Client) *NativeProvider {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = DefaultGeminiBaseURL
	}
	return &NativeProvider{
		baseURL: base,
		apiKey:  strings.TrimSpace(s.APIKey),
		model:   strings.TrimSpace(s.Model),
		client:  client,
	}
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	Tools             []map[string]any       `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (n *NativeProvider) Generate(ctx context.Context, req Request) (Response, ProviderInfo, error) {
	model := n.model
	if req.Model != "" {
		model = req.Model
	}
	info := ProviderInfo{Name: string(config.ProviderGemini), Model: model}
	name := info.Name
	if n.apiKey == "" {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Model: model, Message: "api key missing"}
	}
	if model == "" {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Message: "model missing"}
	}

	parts := make([]geminiPart, 0, 2)
	if f := req.Attachment; f != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: f.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(f.Data),
		}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	body := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{Temperature: req.Temperature},
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}}
	}
	if req.EnableSearch {
		body.Tools = []map[string]any{{"google_search": map[string]any{}}}
	} else if req.JSONMode {
		// The API rejects a JSON mime type combined with the search tool.
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, info, fmt.Errorf("encode gemini request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", n.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Model: model, Message: "invalid base url", Err: err}
	}
	httpReq.Header.Set("x-goog-api-key", n.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(httpReq)
	if err != nil {
		return Response{}, info, transportError(ctx, name, model, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, info, transportError(ctx, name, model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb geminiErrorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return Response{}, info, &ProviderError{
			Kind:     classifyStatus(resp.StatusCode, eb.Error.Status, msg),
			Provider: name,
			Model:    model,
			Status:   resp.StatusCode,
			Code:     eb.Error.Status,
			Message:  msg,
		}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, info, &ProviderError{Kind: KindParse, Provider: name, Model: model, Message: "decode gemini response", Err: err}
	}
	if len(parsed.Candidates) == 0 {
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			return Response{}, info, &ProviderError{Kind: KindUnknown, Provider: name, Model: model, Message: "prompt blocked: " + parsed.PromptFeedback.BlockReason}
		}
		return Response{}, info, &ProviderError{Kind: KindParse, Provider: name, Model: model, Message: "no candidates"}
	}

	cand := parsed.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		if p.Thought {
			continue
		}
		text.WriteString(p.Text)
	}
	out := Response{Text: text.String(), Sources: []Source{}}
	if cand.GroundingMetadata != nil {
		srcs := make([]Source, 0, len(cand.GroundingMetadata.GroundingChunks))
		for _, ch := range cand.GroundingMetadata.GroundingChunks {
			if ch.Web == nil {
				continue
			}
			srcs = append(srcs, Source{URI: ch.Web.URI, Title: ch.Web.Title})
		}
		out.Sources = dedupeSources(srcs)
	}
	if strings.TrimSpace(out.Text) == "" {
		return Response{}, info, &ProviderError{Kind: KindParse, Provider: name, Model: model, Message: "empty response (finish reason " + cand.FinishReason + ")"}
	}
	return out, info, nil
}
