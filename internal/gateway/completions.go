package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/peteollama/jamie-gateway/internal/httputil"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// ChatCompletions handles POST /vapi/chat/completions, the OpenAI-schema
// surface VAPI calls during live phone calls.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	var in types.CompletionRequest
	if err := json.Unmarshal(body, &in); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if len(in.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, "messages is required")
		return
	}

	req := types.ChatRequest{
		RequestID:   reqID,
		Messages:    in.Messages,
		Model:       in.Model,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
		Stream:      in.Stream,
		ReceivedAt:  time.Now(),
	}

	if in.Stream {
		h.streamCompletion(w, r, req)
		return
	}

	res := h.serve(r.Context(), "vapi_completions", req)
	if !res.OK() {
		httputil.WriteServiceUnavailableError(w, reqID, res.Error)
		return
	}

	httputil.WriteJSON(w, reqID, completionResponse(res, req.Model))
}

func completionResponse(res *types.ChatResult, requestedModel string) types.CompletionResponse {
	model := res.Model
	if model == "" {
		model = requestedModel
	}
	return types.CompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []types.CompletionChoice{
			{
				Index:        0,
				Message:      types.Message{Role: "assistant", Content: res.Response},
				FinishReason: "stop",
			},
		},
		Usage: types.Usage{
			PromptTokens:     res.InputTokens,
			CompletionTokens: res.OutputTokens,
			TotalTokens:      res.InputTokens + res.OutputTokens,
		},
	}
}

// Personas handles GET /vapi/personas.
func (h *Handler) Personas(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	settings := h.loader.Models()

	type personaEntry struct {
		Name         string   `json:"name"`
		DisplayName  string   `json:"display_name"`
		Models       []string `json:"models"`
		DefaultModel string   `json:"default_model"`
	}

	out := make([]personaEntry, 0, len(settings.Personas))
	for name, p := range settings.Personas {
		out = append(out, personaEntry{
			Name:         name,
			DisplayName:  p.DisplayName,
			Models:       p.Models,
			DefaultModel: p.DefaultModel,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	httputil.WriteJSON(w, reqID, map[string]interface{}{"personas": out})
}
