package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	dir := t.TempDir()
	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_SET", "value")
	os.Unsetenv("TEST_EXPAND_UNSET")

	tests := []struct {
		in, want string
	}{
		{"${TEST_EXPAND_SET}", "value"},
		{"${TEST_EXPAND_UNSET:fallback}", "fallback"},
		{"${TEST_EXPAND_UNSET}", ""},
		{"prefix-${TEST_EXPAND_SET}-suffix", "prefix-value-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_MissingFilesUsesDefaults(t *testing.T) {
	l := newTestLoader(t)

	if l.Config().Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", l.Config().Server.Port)
	}
	if l.System().Caching.Threshold != 0.75 {
		t.Errorf("expected default threshold 0.75, got %v", l.System().Caching.Threshold)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "configs", "gateway.yaml"), "server:\n  port: 9100\n")

	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Config().Server.Port != 9100 {
		t.Errorf("expected port 9100 from file, got %d", l.Config().Server.Port)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "state", "system_config.json"),
		`{"default_provider":"ollama","providers":{"ollama":{"enabled":true},"runpod":{"enabled":true,"api_key":"from-file"},"openrouter":{"enabled":true}}}`)
	t.Setenv("RUNPOD_API_KEY", "from-env")

	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := l.System().Providers[ProviderRunPod].APIKey; got != "from-env" {
		t.Errorf("env must take precedence over file, got %q", got)
	}
}

func TestLoad_MalformedStateFileRevertsToDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "state", "system_config.json"), "{not json")

	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("malformed state file must not fail startup: %v", err)
	}
	if l.System().DefaultProvider != ProviderOpenRouter {
		t.Errorf("expected default provider after revert, got %q", l.System().DefaultProvider)
	}
}

func TestLoad_InvalidThresholdRevertsToDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "state", "system_config.json"),
		`{"default_provider":"openrouter","providers":{"ollama":{},"runpod":{},"openrouter":{}},"caching":{"enabled":true,"threshold":1.5}}`)

	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := l.System().Caching.Threshold; got != 0.75 {
		t.Errorf("invalid threshold must revert to default 0.75, got %v", got)
	}
}

func TestLoad_InvalidModelOverrideRevertsToDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "state", "model_settings.json"),
		`{"models":{"llama3:latest":{"provider":"ollama","caching":{"threshold":-3.0}}}}`)

	l := NewLoader(filepath.Join(dir, "configs"), filepath.Join(dir, "state"), slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := l.CachingFor("", "llama3:latest").Threshold; got != 0.75 {
		t.Errorf("out-of-range model override must revert to defaults, got threshold %v", got)
	}
	if _, ok := l.Models().Model("openai/gpt-4o-mini"); !ok {
		t.Error("reverted settings should be the default catalog")
	}
}

func TestCachingFor_OverrideChain(t *testing.T) {
	l := newTestLoader(t)

	err := l.UpdateSystem(func(s *SystemConfig) error {
		threshold := 0.6
		p := s.Providers[ProviderRunPod]
		p.Caching = &CachingOverride{Threshold: &threshold}
		s.Providers[ProviderRunPod] = p
		return nil
	})
	if err != nil {
		t.Fatalf("update system: %v", err)
	}

	err = l.UpdateModels(func(m *ModelSettings) error {
		enabled := false
		mc := m.Models["llama3:latest"]
		mc.Caching = &CachingOverride{Enabled: &enabled}
		m.Models["llama3:latest"] = mc
		return nil
	})
	if err != nil {
		t.Fatalf("update models: %v", err)
	}

	global := l.CachingFor("", "")
	if global.Threshold != 0.75 {
		t.Errorf("global threshold should be 0.75, got %v", global.Threshold)
	}

	provider := l.CachingFor(ProviderRunPod, "")
	if provider.Threshold != 0.6 {
		t.Errorf("provider override should apply, got %v", provider.Threshold)
	}

	model := l.CachingFor(ProviderOllama, "llama3:latest")
	if model.Enabled {
		t.Error("model-level disable should win")
	}
	if model.Threshold != 0.75 {
		t.Errorf("model override must keep inherited threshold, got %v", model.Threshold)
	}
}

func TestCachingFor_Idempotent(t *testing.T) {
	l := newTestLoader(t)

	first := l.CachingFor(ProviderRunPod, "llama3:latest")
	second := l.CachingFor(ProviderRunPod, "llama3:latest")
	if first != second {
		t.Errorf("repeated resolution must be identical: %+v vs %+v", first, second)
	}
}

func TestUpdateSystem_PersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	l := NewLoader(filepath.Join(dir, "configs"), stateDir, slog.Default())
	if err := l.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	err := l.UpdateSystem(func(s *SystemConfig) error {
		s.DefaultProvider = ProviderOllama
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(stateDir, "system_config.json"))
	if err != nil {
		t.Fatalf("read persisted state: %v", err)
	}
	var persisted SystemConfig
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("persisted state not valid JSON: %v", err)
	}
	if persisted.DefaultProvider != ProviderOllama {
		t.Errorf("expected persisted default ollama, got %q", persisted.DefaultProvider)
	}

	if _, err := os.Stat(filepath.Join(stateDir, "system_config.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file must not survive a completed write")
	}
}

func TestUpdateSystem_RejectsInvalidChange(t *testing.T) {
	l := newTestLoader(t)

	err := l.UpdateSystem(func(s *SystemConfig) error {
		s.Caching.Threshold = 2.0
		return nil
	})
	if err == nil {
		t.Fatal("invalid threshold must be rejected")
	}
	if l.System().Caching.Threshold != 0.75 {
		t.Error("in-memory config must be untouched after a rejected update")
	}
}
