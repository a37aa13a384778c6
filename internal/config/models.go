package config

import (
	"fmt"
	"os"
	"strconv"
)

// ModelSettings is the admin-mutable model catalog, persisted as
// config/model_settings.json.
type ModelSettings struct {
	Models   map[string]ModelConfig `json:"models"`
	Personas map[string]Persona     `json:"personas"`
	// MaxTokens is the default completion cap applied when a request
	// carries none. Overridable via the MAX_TOKENS env var.
	MaxTokens int `json:"max_tokens"`
}

// ModelConfig is a flat per-model settings record.
type ModelConfig struct {
	Provider          string           `json:"provider"`
	DisplayName       string           `json:"display_name"`
	ShowInUI          bool             `json:"show_in_ui"`
	MaxResponseLength int              `json:"max_response_length,omitempty"`
	Conversational    bool             `json:"conversational"`
	Caching           *CachingOverride `json:"caching,omitempty"`
}

// Persona groups one or more models under a display name with a shared
// system prompt, e.g. "Jamie (Property Manager)".
type Persona struct {
	DisplayName  string   `json:"display_name"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
	SystemPrompt string   `json:"system_prompt"`
}

func DefaultModelSettings() *ModelSettings {
	return &ModelSettings{
		Models: map[string]ModelConfig{
			"llama3:latest": {
				Provider:       ProviderOllama,
				DisplayName:    "Llama 3 (local)",
				ShowInUI:       true,
				Conversational: true,
			},
			"openai/gpt-4o-mini": {
				Provider:       ProviderOpenRouter,
				DisplayName:    "GPT-4o mini",
				ShowInUI:       true,
				Conversational: true,
			},
		},
		Personas: map[string]Persona{
			"jamie": {
				DisplayName:  "Jamie (Property Manager)",
				Models:       []string{"llama3:latest", "openai/gpt-4o-mini"},
				DefaultModel: "llama3:latest",
				SystemPrompt: "You are Jamie, a friendly and professional property manager. Answer tenant questions about rent, maintenance, and leases concisely.",
			},
		},
		MaxTokens: 1024,
	}
}

func (m *ModelSettings) applyEnv() {
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			m.MaxTokens = n
		}
	}
}

// Validate checks every per-model caching override. Both the state-file
// load path and admin updates go through it.
func (m *ModelSettings) Validate() error {
	for name, mc := range m.Models {
		if err := mc.Caching.validate(); err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
	}
	return nil
}

// Model returns the settings record for a model name.
func (m *ModelSettings) Model(name string) (ModelConfig, bool) {
	mc, ok := m.Models[name]
	return mc, ok
}

// PersonaFor resolves the persona a model belongs to, if any.
func (m *ModelSettings) PersonaFor(model string) (Persona, bool) {
	for _, p := range m.Personas {
		for _, name := range p.Models {
			if name == model {
				return p, true
			}
		}
	}
	return Persona{}, false
}
