package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/peteollama/jamie-gateway/internal/httputil"
	"github.com/peteollama/jamie-gateway/internal/providers"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// streamCompletion serves a streaming /vapi/chat/completions request as
// SSE. Provider selection (including the fallback hop) happens before the
// first byte; there is no mid-stream provider switch. Cache hits and
// non-streaming providers are emitted as a single chunk.
func (h *Handler) streamCompletion(w http.ResponseWriter, r *http.Request, req types.ChatRequest) {
	reqID := req.RequestID

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	h.enrich(&req)
	ctx := r.Context()
	userMessage := req.UserMessage()
	streamID := "chatcmpl-" + uuid.NewString()

	sse := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Request-ID", reqID)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
	}

	if hit, ok := h.lookupCache(ctx, req, userMessage); ok {
		sse()
		writeChunk(w, flusher, streamID, req.Model, types.Delta{Role: "assistant", Content: hit.Sample.AgentResponse}, nil)
		finishStream(w, flusher, streamID, req.Model)

		res := types.Success(CacheProviderTag, req.Model, hit.Sample.AgentResponse)
		res.CacheHit = true
		h.account(ctx, "vapi_completions_stream", req, res)
		return
	}

	provider, fellBack, err := h.router.StreamProvider(ctx, req)
	if err != nil {
		httputil.WriteServiceUnavailableError(w, reqID, "No provider available: "+err.Error())
		return
	}

	slog.Info("streaming started",
		"request_id", reqID, "model", req.Model, "provider", provider.Name(), "fallback", fellBack)
	sse()

	first := true
	emit := func(delta string) error {
		role := ""
		if first {
			role = "assistant"
			first = false
		}
		writeChunk(w, flusher, streamID, req.Model, types.Delta{Role: role, Content: delta}, nil)
		return nil
	}

	var res *types.ChatResult
	if streamer, ok := provider.(providers.Streamer); ok {
		res, err = streamer.ChatStream(ctx, req, emit)
	} else {
		res, err = provider.Chat(ctx, req)
		if err == nil {
			emit(res.Response)
		}
	}
	h.router.RecordStream(provider.Name(), err)

	if err != nil {
		slog.Error("stream failed", "request_id", reqID, "provider", provider.Name(), "error", err)
		// Headers are gone; signal the failure in-band so the client can
		// tell a truncated stream from a completed one. No stop chunk.
		writeStreamError(w, flusher, reqID, "Stream failed: "+err.Error())
		return
	}

	finishStream(w, flusher, streamID, req.Model)

	if fellBack {
		res.Provider = provider.Name() + "_fallback"
	}
	h.recordCache(ctx, req, userMessage, res.Response)
	h.account(ctx, "vapi_completions_stream", req, res)
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, id, model string, delta types.Delta, finishReason *string) {
	chunk := types.CompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.ChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finishReason},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func writeStreamError(w http.ResponseWriter, flusher http.Flusher, reqID, message string) {
	payload := httputil.APIError{Error: httputil.APIErrorBody{
		Message:   message,
		Type:      "server_error",
		Code:      "stream_error",
		RequestID: reqID,
	}}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func finishStream(w http.ResponseWriter, flusher http.Flusher, id, model string) {
	stop := "stop"
	writeChunk(w, flusher, id, model, types.Delta{}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
