package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/types"
)

// OpenRouter talks to the OpenRouter hosted API, which speaks the OpenAI
// chat-completions schema.
type OpenRouter struct {
	settings func() config.ProviderSettings
	client   *http.Client
}

func NewOpenRouter(settings func() config.ProviderSettings) *OpenRouter {
	return &OpenRouter{
		settings: settings,
		client:   newHTTPClient(0),
	}
}

// httpClient applies the currently configured timeout, so a settings
// change takes effect without restart. The transport is shared.
func (o *OpenRouter) httpClient() *http.Client {
	t := o.settings().Timeout()
	if t <= 0 {
		return o.client
	}
	c := *o.client
	c.Timeout = t
	return &c
}

func (o *OpenRouter) Name() string { return config.ProviderOpenRouter }

func (o *OpenRouter) Configured() bool {
	s := o.settings()
	return s.Enabled && s.APIKey != ""
}

func (o *OpenRouter) baseURL() string {
	base := o.settings().BaseURL
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}
	return strings.TrimSuffix(base, "/")
}

func (o *OpenRouter) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResult, error) {
	start := time.Now()

	body := types.CompletionRequest{
		Model:       req.Model,
		Messages:    withSystem(req.Messages, req.System),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, err := o.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out types.CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openrouter returned no choices")
	}

	res := types.Success(o.Name(), out.Model, out.Choices[0].Message.Content)
	res.ExecutionTime = time.Since(start).Seconds()
	res.InputTokens = out.Usage.PromptTokens
	res.OutputTokens = out.Usage.CompletionTokens
	if res.OutputTokens == 0 {
		res.OutputTokens = estimateTokens(res.Response)
	}
	return res, nil
}

// ChatStream forwards the provider's SSE deltas.
func (o *OpenRouter) ChatStream(ctx context.Context, req types.ChatRequest, emit func(delta string) error) (*types.ChatResult, error) {
	start := time.Now()

	body := types.CompletionRequest{
		Model:       req.Model,
		Messages:    withSystem(req.Messages, req.System),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	resp, err := o.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk types.CompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			buf.WriteString(c.Delta.Content)
			if err := emit(c.Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("openrouter stream: %w", err)
	}

	res := types.Success(o.Name(), req.Model, buf.String())
	res.ExecutionTime = time.Since(start).Seconds()
	res.OutputTokens = estimateTokens(res.Response)
	return res, nil
}

func (o *OpenRouter) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL()+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.settings().APIKey)

	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter models returned status %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode openrouter models: %w", err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (o *OpenRouter) send(ctx context.Context, body types.CompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openrouter request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL()+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create openrouter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.settings().APIKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/peteollama/jamie-gateway")
	httpReq.Header.Set("X-Title", "Jamie Gateway")

	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("openrouter returned status %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}
