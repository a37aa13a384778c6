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

// Ollama talks to a local Ollama server over its native HTTP API.
type Ollama struct {
	settings func() config.ProviderSettings
	client   *http.Client
}

func NewOllama(settings func() config.ProviderSettings) *Ollama {
	return &Ollama{
		settings: settings,
		client:   newHTTPClient(0),
	}
}

// httpClient applies the currently configured timeout, so a settings
// change takes effect without restart. The transport is shared.
func (o *Ollama) httpClient() *http.Client {
	t := o.settings().Timeout()
	if t <= 0 {
		return o.client
	}
	c := *o.client
	c.Timeout = t
	return &c
}

func (o *Ollama) Name() string { return config.ProviderOllama }

func (o *Ollama) Configured() bool {
	s := o.settings()
	return s.Enabled && s.BaseURL != ""
}

func (o *Ollama) baseURL() string {
	return strings.TrimSuffix(o.settings().BaseURL, "/")
}

type ollamaChatBody struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message types.Message `json:"message"`
	Done    bool          `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (o *Ollama) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResult, error) {
	start := time.Now()

	body := ollamaChatBody{
		Model:    req.Model,
		Messages: withSystem(req.Messages, req.System),
		Stream:   false,
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	var out ollamaChatResponse
	if err := o.post(ctx, "/api/chat", body, &out); err != nil {
		return nil, err
	}

	res := types.Success(o.Name(), out.Model, out.Message.Content)
	res.ExecutionTime = time.Since(start).Seconds()
	res.InputTokens = out.PromptEvalCount
	res.OutputTokens = out.EvalCount
	if res.OutputTokens == 0 {
		res.OutputTokens = estimateTokens(out.Message.Content)
	}
	return res, nil
}

// ChatStream reads the NDJSON stream from /api/chat.
func (o *Ollama) ChatStream(ctx context.Context, req types.ChatRequest, emit func(delta string) error) (*types.ChatResult, error) {
	start := time.Now()

	body := ollamaChatBody{
		Model:    req.Model,
		Messages: withSystem(req.Messages, req.System),
		Stream:   true,
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	resp, err := o.send(ctx, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf strings.Builder
	var last ollamaChatResponse
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			buf.WriteString(chunk.Message.Content)
			if err := emit(chunk.Message.Content); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			last = chunk
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}

	res := types.Success(o.Name(), req.Model, buf.String())
	res.ExecutionTime = time.Since(start).Seconds()
	res.InputTokens = last.PromptEvalCount
	res.OutputTokens = last.EvalCount
	if res.OutputTokens == 0 {
		res.OutputTokens = estimateTokens(res.Response)
	}
	return res, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (o *Ollama) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}
	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags returned status %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Embed requests an embedding vector for the given text, used by the
// vector similarity cache.
func (o *Ollama) Embed(ctx context.Context, model, text string) ([]float32, error) {
	body := map[string]string{"model": model, "prompt": text}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := o.post(ctx, "/api/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}
	return out.Embedding, nil
}

// Show returns the raw model card from /api/show (parameters, template,
// details) for a locally installed model.
func (o *Ollama) Show(ctx context.Context, model string) (map[string]interface{}, error) {
	body := map[string]string{"name": model}
	var out map[string]interface{}
	if err := o.post(ctx, "/api/show", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Ollama) post(ctx context.Context, path string, body, dest interface{}) error {
	resp, err := o.send(ctx, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode ollama response: %w", err)
	}
	return nil
}

func (o *Ollama) send(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL()+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}
