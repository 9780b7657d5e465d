package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumen-home/lumen/internal/httpkit"
)

// PiperClient synthesizes speech via a piper-http style API.
type PiperClient struct {
	baseURL    string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewPiperClient creates a synthesis client for the given endpoint.
func NewPiperClient(baseURL string, logger *slog.Logger) *PiperClient {
	return &PiperClient{
		baseURL: baseURL,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// synthesizeRequest is the wire format of the synthesis endpoint. The
// language selects the voice model on the server side.
type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Synthesize converts text to audio bytes in the voice matching the
// given language tag.
func (c *PiperClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("synthesize API error %d: %s", resp.StatusCode, errBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("synthesis complete", "text_chars", len(text), "audio_bytes", len(audio))
	}

	return audio, nil
}
