package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/peteollama/jamie-gateway/internal/types"
)

// Provider is one LLM backend. Implementations wrap a single vendor API
// and normalize its response shape into a ChatResult. They never retry
// across providers; the router owns the fallback hop.
type Provider interface {
	Name() string

	// Configured reports whether the provider has what it needs to accept
	// calls (endpoint, API key). It does not probe the network.
	Configured() bool

	Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResult, error)

	// Models lists the model identifiers this provider can serve.
	Models(ctx context.Context) ([]string, error)
}

// Streamer is implemented by providers that can deliver a response
// incrementally. emit is called once per text delta, in order; returning
// an error aborts the stream.
type Streamer interface {
	ChatStream(ctx context.Context, req types.ChatRequest, emit func(delta string) error) (*types.ChatResult, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// withSystem prepends the persona system prompt unless the conversation
// already opens with a system message.
func withSystem(msgs []types.Message, system string) []types.Message {
	if system == "" {
		return msgs
	}
	for _, m := range msgs {
		if m.Role == "system" {
			return msgs
		}
	}
	out := make([]types.Message, 0, len(msgs)+1)
	out = append(out, types.Message{Role: "system", Content: system})
	return append(out, msgs...)
}

// estimateTokens is the rough whitespace-split count used when a vendor
// response carries no usage block.
func estimateTokens(text string) int {
	n := 0
	inWord := false
	for _, c := range text {
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}
