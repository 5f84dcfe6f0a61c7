package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"paperlens/internal/config"
	"paperlens/internal/util"
)

const (
	compatMaxTokens = 8192
	// maxAttachmentRunes bounds extracted document text appended to a prompt.
	maxAttachmentRunes = 120000
)

// CompatProvider talks to any OpenAI Chat Completions compatible endpoint.
type CompatProvider struct {
	preset   Preset
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewCompatProvider(s config.ProviderSettings, client *http.Client) *CompatProvider {
	preset, ok := PresetFor(s.Provider)
	if !ok {
		preset = Preset{Kind: s.Provider}
	}
	base := s.BaseURL
	if strings.TrimSpace(base) == "" {
		base = preset.BaseURL
	}
	model := strings.TrimSpace(s.Model)
	if model == "" {
		model = preset.DefaultModel
	}
	return &CompatProvider{
		preset:   preset,
		apiKey:   strings.TrimSpace(s.APIKey),
		endpoint: NormalizeBaseURL(base),
		model:    model,
		client:   client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	Stream         bool            `json:"stream"`
	Tools          []any           `json:"tools,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	WebSearch []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"web_search"`
}

func (c *CompatProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: string(c.preset.Kind), Model: model}
}

func (c *CompatProvider) Generate(ctx context.Context, req Request) (Response, ProviderInfo, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	info := c.info(model)
	name := info.Name
	if c.apiKey == "" {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Model: model, Message: "api key missing"}
	}
	if c.endpoint == "" || model == "" {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Model: model, Message: "base url and model are required"}
	}

	prompt := req.Prompt
	if req.Attachment != nil {
		text, err := req.Attachment.Text()
		if err != nil {
			return Response{}, info, &ProviderError{Kind: KindUnknown, Provider: name, Model: model, Message: "cannot read attachment", Err: err}
		}
		prompt += "\n\n--- Attached document: " + req.Attachment.Name + " ---\n" + util.Excerpt(text, maxAttachmentRunes)
	}

	body := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   compatMaxTokens,
		Stream:      false,
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: prompt})
	if req.EnableSearch && c.preset.WebSearch {
		body.Tools = []any{map[string]any{
			"type":       "web_search",
			"web_search": map[string]any{"enable": true, "search_result": true},
		}}
	}
	if req.JSONMode && c.preset.JSONFormat {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, info, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, info, &ProviderError{Kind: KindConfiguration, Provider: name, Model: model, Message: "invalid base url", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, info, transportError(ctx, name, model, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, info, transportError(ctx, name, model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, info, c.errorFromResponse(model, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, info, &ProviderError{Kind: KindParse, Provider: name, Model: model, Message: "decode chat response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, info, &ProviderError{Kind: KindParse, Provider: name, Model: model, Message: "empty choices"}
	}
	out := Response{Text: parsed.Choices[0].Message.Content, Sources: []Source{}}
	if c.preset.WebSearch {
		srcs := make([]Source, 0, len(parsed.WebSearch))
		for _, w := range parsed.WebSearch {
			srcs = append(srcs, Source{URI: w.Link, Title: w.Title})
		}
		out.Sources = dedupeSources(srcs)
	}
	return out, info, nil
}

func (c *CompatProvider) errorFromResponse(model string, status int, body []byte) error {
	code, message := parseErrorBody(body)
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	kind := classifyStatus(status, code, message)
	if kind == KindBilling {
		message = billingMessage(model, c.preset.FreeModels, message)
	}
	return &ProviderError{
		Kind:     kind,
		Provider: string(c.preset.Kind),
		Model:    model,
		Status:   status,
		Code:     code,
		Message:  message,
	}
}

func billingMessage(model string, free []string, detail string) string {
	msg := fmt.Sprintf("model %q cannot be used because the account balance is insufficient (%s)", model, detail)
	if len(free) > 0 {
		msg += "; switch to a free model such as " + strings.Join(free, ", ") + " or top up the account"
	} else {
		msg += "; top up the account or choose a free model"
	}
	return msg
}

// parseErrorBody reads either {"code","message"} or {"error":{"code","message"}}.
func parseErrorBody(body []byte) (code, message string) {
	var env struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}
	code = rawScalar(env.Code)
	message = env.Message
	if len(env.Error) > 0 {
		var nested struct {
			Code    json.RawMessage `json:"code"`
			Message string          `json:"message"`
			Type    string          `json:"type"`
		}
		if err := json.Unmarshal(env.Error, &nested); err == nil {
			if c := rawScalar(nested.Code); c != "" {
				code = c
			} else if code == "" {
				code = nested.Type
			}
			if nested.Message != "" {
				message = nested.Message
			}
		} else if s := rawScalar(env.Error); s != "" && message == "" {
			message = s
		}
	}
	return code, message
}

// rawScalar renders a JSON string or number as plain text.
func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
