package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/peteollama/jamie-gateway/internal/config"
	"github.com/peteollama/jamie-gateway/internal/types"
)

const runpodAPIBase = "https://api.runpod.ai/v2"

// RunPod job states as returned by the serverless API.
const (
	runpodCompleted  = "COMPLETED"
	runpodFailed     = "FAILED"
	runpodCancelled  = "CANCELLED"
	runpodInQueue    = "IN_QUEUE"
	runpodInProgress = "IN_PROGRESS"
)

// RunPod talks to a RunPod serverless endpoint. The endpoint's job API is
// a polling/streaming hybrid: a bounded synchronous attempt first, then an
// async submit whose output is reconstructed from the stream endpoint,
// falling back to plain status polling.
type RunPod struct {
	settings func() config.ProviderSettings
	routing  func() config.RoutingConfig
	client   *http.Client
}

func NewRunPod(settings func() config.ProviderSettings, routing func() config.RoutingConfig) *RunPod {
	return &RunPod{
		settings: settings,
		routing:  routing,
		client:   newHTTPClient(0), // per-call deadlines via context
	}
}

func (r *RunPod) Name() string { return config.ProviderRunPod }

func (r *RunPod) Configured() bool {
	s := r.settings()
	return s.Enabled && s.APIKey != "" && s.Endpoint != ""
}

func (r *RunPod) apiBase() string {
	if s := r.settings(); s.BaseURL != "" {
		return strings.TrimSuffix(s.BaseURL, "/")
	}
	return runpodAPIBase
}

func (r *RunPod) endpointURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", r.apiBase(), r.settings().Endpoint, path)
}

type runpodInput struct {
	Messages    []types.Message `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type runpodJobRequest struct {
	Input runpodInput `json:"input"`
}

type runpodJobStatus struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type runpodStreamResponse struct {
	Status string `json:"status"`
	Stream []struct {
		Output json.RawMessage `json:"output"`
	} `json:"stream"`
}

func (r *RunPod) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResult, error) {
	start := time.Now()
	routing := r.routing()

	job := runpodJobRequest{Input: runpodInput{
		Messages:    withSystem(req.Messages, req.System),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}}

	// Bounded synchronous attempt first; the endpoint answers inline when
	// a worker is warm.
	text, err := r.trySync(ctx, job, routing.SyncAttemptTimeout)
	if err == nil {
		return r.result(req.Model, text, start), nil
	}
	slog.Debug("runpod sync attempt failed, submitting async job", "error", err)

	status, err := r.submit(ctx, job)
	if err != nil {
		return nil, err
	}

	text, err = r.collect(ctx, status.ID)
	if err != nil {
		return nil, err
	}
	return r.result(req.Model, text, start), nil
}

func (r *RunPod) result(model, text string, start time.Time) *types.ChatResult {
	res := types.Success(r.Name(), model, text)
	res.ExecutionTime = time.Since(start).Seconds()
	res.OutputTokens = estimateTokens(text)
	return res
}

func (r *RunPod) trySync(ctx context.Context, job runpodJobRequest, timeout time.Duration) (string, error) {
	syncCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var status runpodJobStatus
	if err := r.call(syncCtx, http.MethodPost, r.endpointURL("runsync"), job, &status); err != nil {
		return "", err
	}
	if status.Status != runpodCompleted {
		return "", fmt.Errorf("runpod sync job not completed: %s", status.Status)
	}
	return decodeRunpodOutput(status.Output)
}

func (r *RunPod) submit(ctx context.Context, job runpodJobRequest) (*runpodJobStatus, error) {
	var status runpodJobStatus
	if err := r.call(ctx, http.MethodPost, r.endpointURL("run"), job, &status); err != nil {
		return nil, err
	}
	if status.ID == "" {
		return nil, fmt.Errorf("runpod submit returned no job id")
	}
	return &status, nil
}

// collect reconstructs the response text for an async job. The stream
// endpoint delivers output incrementally; chunks already consumed are
// skipped by position, so legitimately repeated tokens survive intact.
func (r *RunPod) collect(ctx context.Context, jobID string) (string, error) {
	routing := r.routing()

	text, streamErr := r.collectStream(ctx, jobID, routing.StreamTimeout)
	if streamErr == nil && text != "" {
		return text, nil
	}
	if streamErr != nil {
		slog.Debug("runpod stream collection failed, polling status", "job_id", jobID, "error", streamErr)
	}

	return r.pollStatus(ctx, jobID, routing.PollInterval, routing.PollBudget)
}

func (r *RunPod) collectStream(ctx context.Context, jobID string, timeout time.Duration) (string, error) {
	streamCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var buf strings.Builder
	consumed := 0
	for {
		var resp runpodStreamResponse
		if err := r.call(streamCtx, http.MethodGet, r.endpointURL("stream/"+jobID), nil, &resp); err != nil {
			return buf.String(), err
		}

		for ; consumed < len(resp.Stream); consumed++ {
			part, err := decodeRunpodOutput(resp.Stream[consumed].Output)
			if err != nil {
				continue
			}
			buf.WriteString(part)
		}

		switch resp.Status {
		case runpodCompleted:
			return buf.String(), nil
		case runpodFailed, runpodCancelled:
			return buf.String(), fmt.Errorf("runpod job %s: %s", jobID, resp.Status)
		}

		select {
		case <-streamCtx.Done():
			return buf.String(), streamCtx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (r *RunPod) pollStatus(ctx context.Context, jobID string, interval time.Duration, budget int) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if budget <= 0 {
		budget = 30
	}

	for i := 0; i < budget; i++ {
		var status runpodJobStatus
		if err := r.call(ctx, http.MethodGet, r.endpointURL("status/"+jobID), nil, &status); err != nil {
			return "", err
		}

		switch status.Status {
		case runpodCompleted:
			return decodeRunpodOutput(status.Output)
		case runpodFailed, runpodCancelled:
			if status.Error != "" {
				return "", fmt.Errorf("runpod job %s failed: %s", jobID, status.Error)
			}
			return "", fmt.Errorf("runpod job %s: %s", jobID, status.Status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
	return "", fmt.Errorf("runpod job %s: poll budget exhausted", jobID)
}

// Models returns the static allow-list of models this endpoint serves.
// RunPod serverless has no listing API; the set is configuration.
func (r *RunPod) Models(ctx context.Context) ([]string, error) {
	return KnownRunPodModels(), nil
}

// KnownRunPodModels is the static table of model names the serverless
// endpoint is provisioned for. Routing consults it for bare local-style
// tags that are not listed on the Ollama server.
func KnownRunPodModels() []string {
	return []string{
		"runpod-llama3",
		"peteollama:jamie-voice-complete",
		"peteollama:property-manager",
	}
}

func (r *RunPod) call(ctx context.Context, method, url string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal runpod request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create runpod request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.settings().APIKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runpod request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("runpod returned status %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode runpod response: %w", err)
	}
	return nil
}

// decodeRunpodOutput extracts text from the heterogeneous output shapes
// the serverless handlers return: a bare string, {"text": ...},
// {"tokens": [...]}, or an OpenAI-style choices array.
func decodeRunpodOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty runpod output")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj struct {
		Text    string   `json:"text"`
		Tokens  []string `json:"tokens"`
		Choices []struct {
			Text    string   `json:"text"`
			Tokens  []string `json:"tokens"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Array-of-parts shape: concatenate each element.
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", fmt.Errorf("unrecognized runpod output shape")
		}
		var buf strings.Builder
		for _, p := range parts {
			if text, err := decodeRunpodOutput(p); err == nil {
				buf.WriteString(text)
			}
		}
		return buf.String(), nil
	}

	if obj.Text != "" {
		return obj.Text, nil
	}
	if len(obj.Tokens) > 0 {
		return strings.Join(obj.Tokens, ""), nil
	}
	for _, c := range obj.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
		if c.Text != "" {
			return c.Text, nil
		}
		if len(c.Tokens) > 0 {
			return strings.Join(c.Tokens, ""), nil
		}
	}
	return "", fmt.Errorf("no text in runpod output")
}
