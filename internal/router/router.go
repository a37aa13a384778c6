package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/providers"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// openrouterPrefixes are provider-qualified model prefixes that always
// route to OpenRouter.
var openrouterPrefixes = []string{"openai/", "anthropic/", "meta-llama/"}

// Registry holds the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]providers.Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]providers.Provider)}
}

func (r *Registry) Register(p providers.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}

// Router selects exactly one provider per request and performs at most one
// fallback hop on failure. No speculative or parallel vendor calls.
type Router struct {
	registry *Registry
	health   *HealthTracker
	system   func() *config.SystemConfig

	// localModels caches the Ollama tag listing used by the routing table.
	localMu        sync.Mutex
	localModels    map[string]bool
	localFetchedAt time.Time

	onFallback func(from, to string)
}

func New(registry *Registry, health *HealthTracker, system func() *config.SystemConfig) *Router {
	return &Router{
		registry:    registry,
		health:      health,
		system:      system,
		localModels: make(map[string]bool),
	}
}

// OnFallback registers a hook fired whenever the fallback hop is taken.
func (r *Router) OnFallback(fn func(from, to string)) { r.onFallback = fn }

// ProviderForModel infers the backing provider from a model identifier:
// RunPod substring markers first, then OpenRouter prefixes, then
// colon-qualified local tags, then the configured default.
func (r *Router) ProviderForModel(ctx context.Context, model string) string {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "runpod-") || strings.Contains(lower, "serverless") {
		return config.ProviderRunPod
	}
	for _, prefix := range openrouterPrefixes {
		if strings.HasPrefix(model, prefix) {
			return config.ProviderOpenRouter
		}
	}
	if strings.Contains(model, ":") {
		if r.listedLocally(ctx, model) {
			return config.ProviderOllama
		}
		for _, known := range providers.KnownRunPodModels() {
			if known == model {
				return config.ProviderRunPod
			}
		}
		return config.ProviderOpenRouter
	}

	if def := r.system().DefaultProvider; def != "" {
		return def
	}
	return config.ProviderOpenRouter
}

const localModelTTL = 30 * time.Second

func (r *Router) listedLocally(ctx context.Context, model string) bool {
	r.localMu.Lock()
	defer r.localMu.Unlock()

	if time.Since(r.localFetchedAt) > localModelTTL {
		r.localFetchedAt = time.Now()
		if ollama, ok := r.registry.Get(config.ProviderOllama); ok && ollama.Configured() {
			listCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			names, err := ollama.Models(listCtx)
			cancel()
			if err != nil {
				slog.Debug("ollama tag listing failed", "error", err)
			} else {
				r.localModels = make(map[string]bool, len(names))
				for _, n := range names {
					r.localModels[n] = true
				}
			}
		}
	}
	return r.localModels[model]
}

// available combines configuration state with the circuit breaker. A true
// return may consume the breaker's half-open probe slot, so callers must
// follow up with the actual vendor call.
func (r *Router) available(name string) bool {
	p, ok := r.registry.Get(name)
	if !ok || !p.Configured() {
		return false
	}
	return r.health.Allow(name)
}

// Chat routes the request: explicit override first, then the model-name
// table, with a single fallback hop on unavailability or call failure.
// Soft failures come back as error envelopes, not Go errors.
func (r *Router) Chat(ctx context.Context, req types.ChatRequest) *types.ChatResult {
	primary := req.Provider
	if primary == "" {
		primary = r.ProviderForModel(ctx, req.Model)
	}

	if r.available(primary) {
		res, err := r.dispatch(ctx, primary, req)
		if err == nil {
			return res
		}
		slog.Warn("provider call failed",
			"request_id", req.RequestID, "provider", primary, "model", req.Model, "error", err)
		return r.fallbackFrom(ctx, primary, req, err)
	}

	slog.Info("provider unavailable, trying fallback",
		"request_id", req.RequestID, "provider", primary, "model", req.Model)
	return r.fallbackFrom(ctx, primary, req, nil)
}

// fallbackFrom attempts the single statically configured fallback hop.
func (r *Router) fallbackFrom(ctx context.Context, primary string, req types.ChatRequest, primaryErr error) *types.ChatResult {
	fb := r.fallbackFor(primary)
	if fb == "" || fb == primary || !r.available(fb) {
		return unavailableResult(primary, fb, primaryErr)
	}

	if r.onFallback != nil {
		r.onFallback(primary, fb)
	}

	res, err := r.dispatch(ctx, fb, req)
	if err != nil {
		slog.Warn("fallback provider call failed",
			"request_id", req.RequestID, "provider", fb, "model", req.Model, "error", err)
		return unavailableResult(primary, fb, err)
	}
	res.Provider = fb + "_fallback"
	return res
}

func (r *Router) fallbackFor(name string) string {
	if p, ok := r.system().Provider(name); ok {
		return p.Fallback
	}
	return ""
}

func (r *Router) dispatch(ctx context.Context, name string, req types.ChatRequest) (*types.ChatResult, error) {
	p, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", name)
	}

	res, err := p.Chat(ctx, req)
	if err != nil {
		r.health.RecordFailure(name)
		return nil, err
	}
	r.health.RecordSuccess(name)
	return res, nil
}

// StreamProvider resolves which provider a streaming request should use.
// The fallback decision happens before the first byte; there is no
// mid-stream provider switch.
func (r *Router) StreamProvider(ctx context.Context, req types.ChatRequest) (providers.Provider, bool, error) {
	primary := req.Provider
	if primary == "" {
		primary = r.ProviderForModel(ctx, req.Model)
	}

	name := primary
	fellBack := false
	if !r.available(name) {
		fb := r.fallbackFor(primary)
		if fb == "" || !r.available(fb) {
			return nil, false, fmt.Errorf("no provider available: tried %s", attempted(primary, fb))
		}
		name = fb
		fellBack = true
		if r.onFallback != nil {
			r.onFallback(primary, fb)
		}
	}

	p, _ := r.registry.Get(name)
	return p, fellBack, nil
}

// RecordStream feeds a streaming call's outcome back into the breaker.
func (r *Router) RecordStream(provider string, err error) {
	if err != nil {
		r.health.RecordFailure(provider)
		return
	}
	r.health.RecordSuccess(provider)
}

func (r *Router) Health() *HealthTracker { return r.health }

func (r *Router) Registry() *Registry { return r.registry }

func unavailableResult(primary, fallback string, cause error) *types.ChatResult {
	msg := fmt.Sprintf("no provider available: tried %s", attempted(primary, fallback))
	if cause != nil {
		msg = fmt.Sprintf("%s (last error: %v)", msg, cause)
	}
	return types.Failure(primary, msg)
}

func attempted(primary, fallback string) string {
	if fallback == "" || fallback == primary {
		return primary
	}
	return primary + ", " + fallback
}
