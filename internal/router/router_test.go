package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// fakeProvider implements providers.Provider (and Chat failure injection)
// for routing tests.
type fakeProvider struct {
	name       string
	configured bool
	models     []string
	chatErr    error
	calls      int
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Chat(_ context.Context, req types.ChatRequest) (*types.ChatResult, error) {
	f.calls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return types.Success(f.name, req.Model, "hello from "+f.name), nil
}

func (f *fakeProvider) Models(_ context.Context) ([]string, error) {
	return f.models, nil
}

func testSystem(defaultProvider string) func() *config.SystemConfig {
	s := config.DefaultSystemConfig()
	if defaultProvider != "" {
		s.DefaultProvider = defaultProvider
	}
	return func() *config.SystemConfig { return s }
}

func newTestRouter(system func() *config.SystemConfig, fakes ...*fakeProvider) (*Router, map[string]*fakeProvider) {
	registry := NewRegistry()
	byName := make(map[string]*fakeProvider)
	for _, f := range fakes {
		registry.Register(f)
		byName[f.name] = f
	}
	health := NewHealthTracker(5, 15*time.Second)
	return New(registry, health, system), byName
}

func TestProviderForModel_RunPodMarkers(t *testing.T) {
	rt, _ := newTestRouter(testSystem(""))

	for _, model := range []string{"runpod-llama3", "RunPod-Custom", "my-serverless-endpoint"} {
		if got := rt.ProviderForModel(context.Background(), model); got != config.ProviderRunPod {
			t.Errorf("model %q: expected runpod, got %s", model, got)
		}
	}
}

func TestProviderForModel_OpenRouterPrefixes(t *testing.T) {
	rt, _ := newTestRouter(testSystem(""))

	for _, model := range []string{"openai/gpt-4o-mini", "anthropic/claude-3-haiku", "meta-llama/llama-3-70b"} {
		if got := rt.ProviderForModel(context.Background(), model); got != config.ProviderOpenRouter {
			t.Errorf("model %q: expected openrouter, got %s", model, got)
		}
	}
}

func TestProviderForModel_LocalTagListedByOllama(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, models: []string{"llama3:latest"}}
	rt, _ := newTestRouter(testSystem(""), ollama)

	if got := rt.ProviderForModel(context.Background(), "llama3:latest"); got != config.ProviderOllama {
		t.Errorf("expected ollama for locally listed tag, got %s", got)
	}
}

func TestProviderForModel_KnownRunPodTagNotListedLocally(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, models: []string{"llama3:latest"}}
	rt, _ := newTestRouter(testSystem(""), ollama)

	if got := rt.ProviderForModel(context.Background(), "peteollama:jamie-voice-complete"); got != config.ProviderRunPod {
		t.Errorf("expected runpod for known serverless tag, got %s", got)
	}
}

func TestProviderForModel_UnknownColonTagFallsToOpenRouter(t *testing.T) {
	rt, _ := newTestRouter(testSystem(""))

	if got := rt.ProviderForModel(context.Background(), "mystery:v2"); got != config.ProviderOpenRouter {
		t.Errorf("expected openrouter for unknown tag, got %s", got)
	}
}

func TestProviderForModel_DefaultProvider(t *testing.T) {
	rt, _ := newTestRouter(testSystem(config.ProviderOllama))

	if got := rt.ProviderForModel(context.Background(), "plain-name"); got != config.ProviderOllama {
		t.Errorf("expected configured default ollama, got %s", got)
	}
}

func TestChat_PrimarySucceeds(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod)

	res := rt.Chat(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Provider != config.ProviderOllama {
		t.Errorf("expected provider ollama, got %s", res.Provider)
	}
	if runpod.calls != 0 {
		t.Errorf("fallback should not have been called, got %d calls", runpod.calls)
	}
}

func TestChat_FallbackTagged(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, chatErr: errors.New("connection refused")}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod)

	res := rt.Chat(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if !res.OK() {
		t.Fatalf("expected fallback success, got %+v", res)
	}
	if res.Provider != "runpod_fallback" {
		t.Errorf("expected provider runpod_fallback, got %s", res.Provider)
	}
	if ollama.calls != 1 || runpod.calls != 1 {
		t.Errorf("expected one call each, got ollama=%d runpod=%d", ollama.calls, runpod.calls)
	}
}

func TestChat_UnconfiguredPrimarySkipsStraightToFallback(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: false}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod)

	res := rt.Chat(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if !res.OK() {
		t.Fatalf("expected fallback success, got %+v", res)
	}
	if ollama.calls != 0 {
		t.Errorf("unconfigured primary should not be called, got %d calls", ollama.calls)
	}
	if res.Provider != "runpod_fallback" {
		t.Errorf("expected provider runpod_fallback, got %s", res.Provider)
	}
}

func TestChat_NoFallbackHopBeyondOne(t *testing.T) {
	// ollama falls back to runpod only. With both down, openrouter must
	// not be tried even though runpod's own fallback points at it.
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, chatErr: errors.New("down")}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true, chatErr: errors.New("down")}
	openrouter := &fakeProvider{name: config.ProviderOpenRouter, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod, openrouter)

	res := rt.Chat(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if res.OK() {
		t.Fatalf("expected failure, got %+v", res)
	}
	if openrouter.calls != 0 {
		t.Errorf("second fallback hop must not happen, openrouter called %d times", openrouter.calls)
	}
	if !strings.Contains(res.Error, config.ProviderOllama) || !strings.Contains(res.Error, config.ProviderRunPod) {
		t.Errorf("error should name both attempted providers: %q", res.Error)
	}
}

func TestChat_FallbackHookFires(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, chatErr: errors.New("down")}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod)

	var gotFrom, gotTo string
	rt.OnFallback(func(from, to string) { gotFrom, gotTo = from, to })

	rt.Chat(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if gotFrom != config.ProviderOllama || gotTo != config.ProviderRunPod {
		t.Errorf("expected hook ollama->runpod, got %s->%s", gotFrom, gotTo)
	}
}

func TestStreamProvider_FallbackDecidedBeforeStream(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: false}
	runpod := &fakeProvider{name: config.ProviderRunPod, configured: true}
	rt, _ := newTestRouter(testSystem(""), ollama, runpod)

	p, fellBack, err := rt.StreamProvider(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fellBack {
		t.Error("expected fallback flag")
	}
	if p.Name() != config.ProviderRunPod {
		t.Errorf("expected runpod, got %s", p.Name())
	}
}

func TestStreamProvider_NothingAvailable(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: false}
	rt, _ := newTestRouter(testSystem(""), ollama)

	_, _, err := rt.StreamProvider(context.Background(), types.ChatRequest{Model: "x", Provider: config.ProviderOllama})
	if err == nil {
		t.Fatal("expected error with no provider available")
	}
}

func TestChat_BreakerShortCircuitsAfterFailures(t *testing.T) {
	ollama := &fakeProvider{name: config.ProviderOllama, configured: true, chatErr: errors.New("down")}
	registry := NewRegistry()
	registry.Register(ollama)
	health := NewHealthTracker(2, time.Hour)
	sys := config.DefaultSystemConfig()
	p := sys.Providers[config.ProviderOllama]
	p.Fallback = ""
	sys.Providers[config.ProviderOllama] = p
	rt := New(registry, health, func() *config.SystemConfig { return sys })

	req := types.ChatRequest{Model: "x", Provider: config.ProviderOllama}
	rt.Chat(context.Background(), req)
	rt.Chat(context.Background(), req)
	rt.Chat(context.Background(), req)

	if ollama.calls != 2 {
		t.Errorf("breaker should block the third call, provider saw %d calls", ollama.calls)
	}
}
