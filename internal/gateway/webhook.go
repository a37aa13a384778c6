package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peteollama/jamie-gateway/internal/httputil"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// webhookNoMessage is the exact error returned when no user text can be
// extracted from a webhook payload. No provider is called in that case.
const webhookNoMessage = "No user message found in webhook"

// Webhook handles POST /vapi/webhook. VAPI sends several payload shapes
// during a live call; the user's text is dug out of whichever one arrived.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSON(w, reqID, types.Failure("", "Failed to read webhook body"))
		return
	}
	defer r.Body.Close()

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.WriteJSON(w, reqID, types.Failure("", "Invalid webhook JSON"))
		return
	}

	message := extractWebhookMessage(payload)
	if strings.TrimSpace(message) == "" {
		httputil.WriteJSON(w, reqID, types.Failure("", webhookNoMessage))
		return
	}

	req := types.ChatRequest{
		RequestID:  reqID,
		Messages:   []types.Message{{Role: "user", Content: message}},
		Model:      webhookModel(payload),
		ReceivedAt: time.Now(),
	}

	res := h.serve(r.Context(), "vapi_webhook", req)
	httputil.WriteJSON(w, reqID, res)
}

// extractWebhookMessage tries the known VAPI payload shapes in order:
// a bare message string, a message object with content, the last user
// turn of a conversation update, then a top-level transcript.
func extractWebhookMessage(payload map[string]json.RawMessage) string {
	raw, ok := payload["message"]
	if ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}

		var obj struct {
			Content      string `json:"content"`
			Transcript   string `json:"transcript"`
			Conversation []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"conversation"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			if obj.Content != "" {
				return obj.Content
			}
			for i := len(obj.Conversation) - 1; i >= 0; i-- {
				if obj.Conversation[i].Role == "user" && obj.Conversation[i].Content != "" {
					return obj.Conversation[i].Content
				}
			}
			if obj.Transcript != "" {
				return obj.Transcript
			}
		}
	}

	if raw, ok := payload["transcript"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

func webhookModel(payload map[string]json.RawMessage) string {
	raw, ok := payload["model"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
