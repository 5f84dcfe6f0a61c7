package providers

import (
	"fmt"
	"net/http"
	"time"

	"paperlens/internal/config"
)

// Manager builds the adapter for a settings snapshot. Adapters are cheap and
// built per call so a settings change only affects later operations.
type Manager struct {
	client *http.Client
}

func NewManager(cfg config.Config) *Manager {
	timeout := time.Duration(cfg.HTTPTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Manager{client: &http.Client{Timeout: timeout}}
}

// NewManagerWithClient is used by tests that point adapters at httptest servers.
func NewManagerWithClient(client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{client: client}
}

func (m *Manager) ProviderFor(s config.ProviderSettings) (LLMProvider, error) {
	return buildProvider(s, m.client)
}

func buildProvider(s config.ProviderSettings, client *http.Client) (LLMProvider, error) {
	switch s.Provider {
	case config.ProviderMock:
		return NewMockProvider(s.Model), nil
	case config.ProviderGemini:
		return NewNativeProvider(s, client), nil
	case config.ProviderDeepSeek, config.ProviderOpenRouter, config.ProviderSiliconFlow, config.ProviderZhipu, config.ProviderCustom:
		return NewCompatProvider(s, client), nil
	default:
		return nil, &ProviderError{Kind: KindConfiguration, Provider: string(s.Provider), Message: fmt.Sprintf("unsupported provider: %s", s.Provider)}
	}
}
