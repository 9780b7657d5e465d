package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumen-home/lumen/internal/httpkit"
)

// OllamaClient talks to an Ollama-compatible inference server over the
// /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewOllamaClient creates a client for the given endpoint and model.
// The underlying http.Client carries no overall timeout; per-call
// deadlines are applied from the timeout argument so streaming
// responses are not cut off mid-read by a blanket client timeout.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		logger:     logger,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

// generateRequest is the wire format for the Ollama generate API.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// generateResponse is one NDJSON frame from the generate API.
type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

// Complete sends a prompt and returns the full completion text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	return c.CompleteStream(ctx, prompt, timeout, nil)
}

// CompleteStream sends a prompt and delivers incremental chunks to
// onChunk when non-nil. It returns the accumulated completion text.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string, timeout time.Duration, onChunk ChunkFunc) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
		// Low temperature: the pipeline expects structured JSON output.
		Options: map[string]any{"temperature": 0.1},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	if c.logger != nil {
		c.logger.Log(ctx, slog.Level(-8), "llm request payload", "payload", string(body))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, errBody)
	}

	var sb strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var frame generateResponse
		if err := decoder.Decode(&frame); err != nil {
			if err == io.EOF {
				break
			}
			return sb.String(), classifyTransportError(err)
		}

		if frame.Response != "" {
			sb.WriteString(frame.Response)
			if onChunk != nil {
				onChunk(frame.Response)
			}
		}

		if frame.Done {
			if c.logger != nil {
				c.logger.Debug("llm completion finished",
					"model", frame.Model,
					"eval_count", frame.EvalCount,
					"elapsed", time.Since(start).Truncate(time.Millisecond),
				)
			}
			break
		}
	}

	return sb.String(), nil
}

// Ping checks if the inference server is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

// classifyTransportError maps deadline expiry onto ErrTimeout and other
// connection failures onto ErrUnavailable so the pipeline can pick the
// right recovery path.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
