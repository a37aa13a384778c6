package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Provider names. Routing and fallback logic key on these.
const (
	ProviderOllama     = "ollama"
	ProviderRunPod     = "runpod"
	ProviderOpenRouter = "openrouter"
)

// SystemConfig is the admin-mutable provider state, persisted as
// config/system_config.json. Admin actions rewrite it through the Loader.
type SystemConfig struct {
	DefaultProvider string                      `json:"default_provider"`
	Providers       map[string]ProviderSettings `json:"providers"`
	Caching         CachingConfig               `json:"caching"`
}

// ProviderSettings describes one backend.
type ProviderSettings struct {
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
	BaseURL  string `json:"base_url,omitempty"`
	// Endpoint is the RunPod serverless endpoint ID.
	Endpoint   string `json:"endpoint,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	TimeoutSec int    `json:"timeout_seconds,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	// Fallback names the single provider tried when this one fails or is
	// unavailable. Empty means no fallback hop.
	Fallback string           `json:"fallback,omitempty"`
	Caching  *CachingOverride `json:"caching,omitempty"`
}

func (p ProviderSettings) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DefaultProvider: ProviderOpenRouter,
		Providers: map[string]ProviderSettings{
			ProviderOllama: {
				Enabled:    true,
				Priority:   1,
				BaseURL:    "http://localhost:11434",
				TimeoutSec: 60,
				Fallback:   ProviderRunPod,
			},
			ProviderRunPod: {
				Enabled:    true,
				Priority:   2,
				TimeoutSec: 60,
				Fallback:   ProviderOpenRouter,
			},
			ProviderOpenRouter: {
				Enabled:    true,
				Priority:   3,
				BaseURL:    "https://openrouter.ai/api/v1",
				TimeoutSec: 60,
			},
		},
		Caching: DefaultCaching(),
	}
}

// applyEnv layers environment variables on top of file contents. Highest
// merge precedence, consulted only at load time.
func (s *SystemConfig) applyEnv() {
	setKey := func(name, env string) {
		if v := os.Getenv(env); v != "" {
			p := s.Providers[name]
			p.APIKey = v
			s.Providers[name] = p
		}
	}
	setKey(ProviderRunPod, "RUNPOD_API_KEY")
	setKey(ProviderOpenRouter, "OPENROUTER_API_KEY")

	if v := os.Getenv("RUNPOD_SERVERLESS_ENDPOINT"); v != "" {
		p := s.Providers[ProviderRunPod]
		p.Endpoint = v
		s.Providers[ProviderRunPod] = p
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		p := s.Providers[ProviderOllama]
		p.BaseURL = v
		s.Providers[ProviderOllama] = p
	}
	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			s.Caching.Threshold = f
		}
	}
}

// Validate checks invariants the JSON schema cannot express.
func (s *SystemConfig) Validate() error {
	if err := s.Caching.Validate(); err != nil {
		return err
	}
	for name, p := range s.Providers {
		if err := p.Caching.validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if p.Fallback != "" {
			if _, ok := s.Providers[p.Fallback]; !ok {
				return fmt.Errorf("provider %s: unknown fallback %q", name, p.Fallback)
			}
		}
	}
	if s.DefaultProvider != "" {
		if _, ok := s.Providers[s.DefaultProvider]; !ok {
			return fmt.Errorf("unknown default provider %q", s.DefaultProvider)
		}
	}
	return nil
}

// Provider returns settings for a named provider.
func (s *SystemConfig) Provider(name string) (ProviderSettings, bool) {
	p, ok := s.Providers[name]
	return p, ok
}
