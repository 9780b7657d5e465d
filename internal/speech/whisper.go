package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumen-home/lumen/internal/httpkit"
)

// WhisperClient transcribes audio via a whisper-server style HTTP API.
type WhisperClient struct {
	baseURL    string
	logger     *slog.Logger
	httpClient *http.Client
}

// NewWhisperClient creates a transcription client for the given endpoint.
func NewWhisperClient(baseURL string, logger *slog.Logger) *WhisperClient {
	return &WhisperClient{
		baseURL: baseURL,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// transcribeResponse is the wire format of the transcription endpoint.
type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe submits raw audio and returns the recognized text and
// detected language. Empty recognized text maps to [ErrNoSpeech].
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", bytes.NewReader(audio))
	if err != nil {
		return Transcription{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return Transcription{}, fmt.Errorf("transcribe API error %d: %s", resp.StatusCode, body)
	}

	var tr transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Transcription{}, fmt.Errorf("decode response: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return Transcription{}, ErrNoSpeech
	}

	lang := tr.Language
	if lang == "" {
		lang = "en"
	}

	if c.logger != nil {
		c.logger.Debug("transcription complete", "chars", len(text), "language", lang)
	}

	return Transcription{Text: text, Language: lang}, nil
}
