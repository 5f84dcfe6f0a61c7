package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"paperlens/internal/util"
)

const (
	providerEnv = "PAPERLENS_PROVIDER"
	apiKeyEnv   = "PAPERLENS_API_KEY"
	baseURLEnv  = "PAPERLENS_BASE_URL"
	modelEnv    = "PAPERLENS_MODEL"
)

// ProviderKind names a configured back end.
type ProviderKind string

const (
	ProviderGemini      ProviderKind = "gemini"
	ProviderDeepSeek    ProviderKind = "deepseek"
	ProviderOpenRouter  ProviderKind = "openrouter"
	ProviderSiliconFlow ProviderKind = "siliconflow"
	ProviderZhipu       ProviderKind = "zhipu"
	ProviderCustom      ProviderKind = "custom"
	ProviderMock        ProviderKind = "mock"
)

var ErrInvalidSettings = errors.New("invalid provider settings")

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderGemini, ProviderDeepSeek, ProviderOpenRouter, ProviderSiliconFlow, ProviderZhipu, ProviderCustom, ProviderMock:
		return true
	default:
		return false
	}
}

// Native reports whether the kind talks to the tool-augmented generation API
// rather than a Chat Completions endpoint.
func (k ProviderKind) Native() bool {
	return k == ProviderGemini
}

// ProviderSettings is the value every operation snapshots on entry.
type ProviderSettings struct {
	Provider     ProviderKind `yaml:"provider" json:"provider"`
	APIKey       string       `yaml:"apiKey" json:"apiKey"`
	BaseURL      string       `yaml:"baseUrl" json:"baseUrl"`
	Model        string       `yaml:"model" json:"model"`
	EnableSearch bool         `yaml:"enableSearch" json:"enableSearch"`
}

func DefaultSettings() ProviderSettings {
	return ProviderSettings{
		Provider:     ProviderGemini,
		Model:        "gemini-2.5-pro",
		EnableSearch: true,
	}
}

// Configured reports whether a call may be attempted with these settings.
func (s ProviderSettings) Configured() bool {
	if s.Provider == ProviderMock {
		return true
	}
	return strings.TrimSpace(s.APIKey) != ""
}

// Masked returns a copy safe to hand to a client.
func (s ProviderSettings) Masked() ProviderSettings {
	s.APIKey = MaskKey(s.APIKey)
	return s
}

func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func (s ProviderSettings) Validate() error {
	if !s.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidSettings, s.Provider)
	}
	if s.Provider == ProviderCustom && strings.TrimSpace(s.BaseURL) == "" {
		return fmt.Errorf("%w: custom provider requires a base url", ErrInvalidSettings)
	}
	if s.Provider == ProviderCustom && strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("%w: custom provider requires a model", ErrInvalidSettings)
	}
	return nil
}

// SettingsStore owns the current ProviderSettings. Reads hand out copies so a
// concurrent Update never changes a call already in flight.
type SettingsStore struct {
	mu      sync.RWMutex
	path    string
	current ProviderSettings
}

// NewSettingsStore reads path (if present) and applies environment overrides.
// An empty path keeps settings in memory only.
func NewSettingsStore(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, current: DefaultSettings()}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fileSettings ProviderSettings
			if err := yaml.Unmarshal(raw, &fileSettings); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
			s.current = mergeSettings(s.current, fileSettings)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	s.current = applyEnvOverrides(s.current)
	if err := s.current.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemorySettingsStore is used by tests and tools that never persist.
func NewMemorySettingsStore(initial ProviderSettings) *SettingsStore {
	return &SettingsStore{current: initial}
}

func (s *SettingsStore) Get() ProviderSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update replaces the settings. A blank APIKey, or one equal to the masked
// stored key, keeps the stored key so a client that only ever saw the masked
// value can still change other fields. Switching provider without a new key
// clears it; one provider's key is never sent to another.
func (s *SettingsStore) Update(next ProviderSettings) (ProviderSettings, error) {
	next.Provider = ProviderKind(strings.ToLower(strings.TrimSpace(string(next.Provider))))
	next.BaseURL = strings.TrimSpace(next.BaseURL)
	next.Model = strings.TrimSpace(next.Model)
	if err := next.Validate(); err != nil {
		return ProviderSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if keepsStoredKey(next.APIKey, s.current.APIKey) {
		next.APIKey = s.current.APIKey
		if next.Provider != s.current.Provider {
			next.APIKey = ""
		}
	}
	if s.path != "" {
		raw, err := yaml.Marshal(next)
		if err != nil {
			return ProviderSettings{}, fmt.Errorf("encode settings: %w", err)
		}
		if err := util.WriteFileAtomic(s.path, raw, 0o600); err != nil {
			return ProviderSettings{}, fmt.Errorf("persist settings: %w", err)
		}
	}
	s.current = next
	return next, nil
}

func keepsStoredKey(sent, stored string) bool {
	sent = strings.TrimSpace(sent)
	return sent == "" || (stored != "" && sent == MaskKey(stored))
}

func mergeSettings(base, override ProviderSettings) ProviderSettings {
	if override.Provider != "" {
		base.Provider = ProviderKind(strings.ToLower(string(override.Provider)))
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	base.EnableSearch = override.EnableSearch
	return base
}

func applyEnvOverrides(s ProviderSettings) ProviderSettings {
	if v := os.Getenv(providerEnv); v != "" {
		s.Provider = ProviderKind(strings.ToLower(v))
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		s.APIKey = v
	}
	if v := os.Getenv(baseURLEnv); v != "" {
		s.BaseURL = v
	}
	if v := os.Getenv(modelEnv); v != "" {
		s.Model = v
	}
	return s
}
