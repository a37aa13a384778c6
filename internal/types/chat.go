package types

import "time"

// Status discriminates the two result variants every provider call and
// HTTP response collapse into.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Message is a single turn in a conversation, OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ChatRequest is the canonical internal representation of a chat request.
// Every inbound surface (plain chat, webhook, OpenAI-compatible completions)
// is converted into this type before routing.
type ChatRequest struct {
	RequestID string    `json:"request_id"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`

	// Provider forces a specific backend, bypassing model-name inference.
	Provider string `json:"provider,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stream      bool     `json:"stream,omitempty"`

	// Persona system prompt, prepended when no system message is present.
	System string `json:"-"`

	ReceivedAt time.Time `json:"-"`
}

// UserMessage returns the content of the most recent user turn, or "" if
// the request carries none.
func (r *ChatRequest) UserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ChatResult is the normalized envelope all three provider response shapes
// reduce to. Exactly one of Response/Error is meaningful, selected by Status.
type ChatResult struct {
	Status        Status  `json:"status"`
	Response      string  `json:"response,omitempty"`
	Error         string  `json:"error,omitempty"`
	Model         string  `json:"model,omitempty"`
	Provider      string  `json:"provider,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	CacheHit      bool    `json:"cache_hit,omitempty"`
}

// OK reports whether the result carries a usable response.
func (r *ChatResult) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Success builds a success envelope.
func Success(provider, model, response string) *ChatResult {
	return &ChatResult{
		Status:   StatusSuccess,
		Response: response,
		Model:    model,
		Provider: provider,
	}
}

// Failure builds an error envelope.
func Failure(provider, message string) *ChatResult {
	return &ChatResult{
		Status:   StatusError,
		Error:    message,
		Provider: provider,
	}
}
