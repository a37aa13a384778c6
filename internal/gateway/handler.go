package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/peteollama/jamie-gateway/internal/cache"
	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/httputil"
	"github.com/peteollama/jamie-gateway/internal/router"
	"github.com/peteollama/jamie-gateway/internal/telemetry"
	"github.com/peteollama/jamie-gateway/internal/types"
	"github.com/peteollama/jamie-gateway/internal/usage"
)

// CacheProviderTag marks cache-served responses in the result envelope.
const CacheProviderTag = "cache"

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	router  *router.Router
	cache   *cache.Cache
	loader  *config.Loader
	usage   usage.Recorder
	metrics *telemetry.Metrics
	version string
}

func NewHandler(rt *router.Router, c *cache.Cache, loader *config.Loader, rec usage.Recorder, metrics *telemetry.Metrics, version string) *Handler {
	return &Handler{
		router:  rt,
		cache:   c,
		loader:  loader,
		usage:   rec,
		metrics: metrics,
		version: version,
	}
}

type chatBody struct {
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Provider    string   `json:"provider,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Chat handles POST /api/chat. Soft failures (provider down, routing
// exhausted) come back as HTTP 200 with a status:error envelope; only
// malformed input is an HTTP error.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var in chatBody
	if err := json.Unmarshal(body, &in); err != nil {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if in.Message == "" {
		httputil.WriteDetail(w, reqID, http.StatusBadRequest, "message is required")
		return
	}

	req := types.ChatRequest{
		RequestID:   reqID,
		Messages:    []types.Message{{Role: "user", Content: in.Message}},
		Model:       in.Model,
		Provider:    in.Provider,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		ReceivedAt:  time.Now(),
	}

	res := h.serve(r.Context(), "api_chat", req)
	httputil.WriteJSON(w, reqID, res)
}

// serve runs the full chain: persona enrichment, cache pre-filter,
// routing, accounting. It always returns an envelope, never panics a 500.
func (h *Handler) serve(ctx context.Context, route string, req types.ChatRequest) *types.ChatResult {
	h.enrich(&req)

	routing := h.loader.Config().Routing
	if routing.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, routing.DefaultTimeout)
		defer cancel()
	}

	userMessage := req.UserMessage()
	if hit, ok := h.lookupCache(ctx, req, userMessage); ok {
		res := types.Success(CacheProviderTag, req.Model, hit.Sample.AgentResponse)
		res.CacheHit = true
		res.ExecutionTime = time.Since(req.ReceivedAt).Seconds()
		h.account(ctx, route, req, res)
		slog.Info("request served from cache",
			"request_id", req.RequestID, "model", req.Model, "score", hit.Score)
		return res
	}

	res := h.router.Chat(ctx, req)
	if res.OK() {
		h.recordCache(ctx, req, userMessage, res.Response)
	}
	h.account(ctx, route, req, res)

	slog.Info("request completed",
		"request_id", req.RequestID,
		"model", req.Model,
		"provider", res.Provider,
		"status", string(res.Status),
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"duration_ms", time.Since(req.ReceivedAt).Milliseconds(),
	)
	return res
}

// enrich applies persona system prompt and default token cap.
func (h *Handler) enrich(req *types.ChatRequest) {
	models := h.loader.Models()
	if req.Model == "" {
		if p, ok := models.Personas["jamie"]; ok && p.DefaultModel != "" {
			req.Model = p.DefaultModel
		}
	}
	if p, ok := models.PersonaFor(req.Model); ok {
		req.System = p.SystemPrompt
	}
	if req.MaxTokens == nil && models.MaxTokens > 0 {
		n := models.MaxTokens
		req.MaxTokens = &n
	}
	if req.Provider == "" {
		if mc, ok := models.Model(req.Model); ok && mc.Provider != "" {
			req.Provider = mc.Provider
		}
	}
}

func (h *Handler) cachingFor(req types.ChatRequest) config.CachingConfig {
	return h.loader.CachingFor(req.Provider, req.Model)
}

func (h *Handler) lookupCache(ctx context.Context, req types.ChatRequest, userMessage string) (cache.Hit, bool) {
	if h.cache == nil {
		return cache.Hit{}, false
	}
	cfg := h.cachingFor(req)
	if !cfg.Enabled {
		return cache.Hit{}, false
	}
	hit, ok := h.cache.Lookup(ctx, userMessage, cfg)
	if h.metrics != nil {
		if ok {
			h.metrics.RecordCacheLookup("hit")
		} else {
			h.metrics.RecordCacheLookup("miss")
		}
	}
	return hit, ok
}

func (h *Handler) recordCache(ctx context.Context, req types.ChatRequest, userMessage, response string) {
	if h.cache == nil {
		return
	}
	cfg := h.cachingFor(req)
	if !cfg.Enabled {
		return
	}
	h.cache.Record(ctx, userMessage, response, cfg)
}

func (h *Handler) account(ctx context.Context, route string, req types.ChatRequest, res *types.ChatResult) {
	duration := time.Since(req.ReceivedAt)

	if h.metrics != nil {
		h.metrics.RecordRequest(telemetry.RequestLabels{
			Route:        route,
			Model:        req.Model,
			Provider:     res.Provider,
			Status:       string(res.Status),
			DurationMs:   float64(duration.Milliseconds()),
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}

	if h.usage != nil {
		entry := usage.Entry{
			RequestID:    req.RequestID,
			Route:        route,
			Model:        req.Model,
			Provider:     res.Provider,
			Status:       string(res.Status),
			CacheHit:     res.CacheHit,
			Fallback:     isFallbackTag(res.Provider),
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			DurationMs:   duration.Milliseconds(),
			CreatedAt:    time.Now().UTC(),
		}
		if err := h.usage.Record(ctx, entry); err != nil {
			slog.Warn("usage record failed", "request_id", req.RequestID, "error", err)
		}
	}
}

func isFallbackTag(provider string) bool {
	const suffix = "_fallback"
	return len(provider) > len(suffix) && provider[len(provider)-len(suffix):] == suffix
}

// Models handles GET /api/models: the UI-visible catalog plus whatever is
// listed on the local Ollama server, best effort.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	settings := h.loader.Models()

	type modelEntry struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name,omitempty"`
		Provider    string `json:"provider"`
	}

	seen := make(map[string]bool)
	var out []modelEntry
	for name, mc := range settings.Models {
		if !mc.ShowInUI {
			continue
		}
		seen[name] = true
		out = append(out, modelEntry{Name: name, DisplayName: mc.DisplayName, Provider: mc.Provider})
	}

	if ollama, ok := h.router.Registry().Get(config.ProviderOllama); ok && ollama.Configured() {
		listCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if names, err := ollama.Models(listCtx); err == nil {
			for _, name := range names {
				if !seen[name] {
					out = append(out, modelEntry{Name: name, Provider: config.ProviderOllama})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	httputil.WriteJSON(w, reqID, map[string]interface{}{"models": out})
}

// Status handles GET /api/status. Degraded states are reported in the
// body; this route never returns a 500.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	httputil.WriteJSON(w, reqID, h.statusPayload(r.Context()))
}

func (h *Handler) statusPayload(ctx context.Context) map[string]interface{} {
	system := h.loader.System()
	states := h.router.Health().States()

	type providerStatus struct {
		Enabled    bool   `json:"enabled"`
		Configured bool   `json:"configured"`
		Circuit    string `json:"circuit"`
	}

	prov := make(map[string]providerStatus, len(system.Providers))
	overall := "healthy"
	for name, settings := range system.Providers {
		ps := providerStatus{Enabled: settings.Enabled, Circuit: "closed"}
		if p, ok := h.router.Registry().Get(name); ok {
			ps.Configured = p.Configured()
		}
		if st, ok := states[name]; ok {
			ps.Circuit = st
		}
		if settings.Enabled && (!ps.Configured || ps.Circuit == "open") {
			overall = "degraded"
		}
		prov[name] = ps
	}

	payload := map[string]interface{}{
		"status":           overall,
		"version":          h.version,
		"default_provider": system.DefaultProvider,
		"providers":        prov,
	}
	if h.cache != nil {
		payload["cache_samples"] = h.cache.Size(ctx)
	}
	return payload
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, "", map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}
