// Package webinfo answers information queries from the web. It prefers
// the Wikipedia summary API for topic lookups and falls back to
// fetching a page and extracting its readable text.
package webinfo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lumen-home/lumen/internal/httpkit"
)

// maxBodyBytes caps downloaded page size (5 MB).
const maxBodyBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars limits extracted text. Results are spoken or fed
// back into a prompt, so long documents are cut hard.
const DefaultMaxChars = 4000

// Page holds fetched and extracted content from a URL.
type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Service fetches pages and topic summaries.
type Service struct {
	client   *http.Client
	logger   *slog.Logger
	maxChars int
}

// NewService creates a web information service.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
			httpkit.WithLogger(logger),
		),
		logger:   logger,
		maxChars: DefaultMaxChars,
	}
}

// Fetch downloads a URL and extracts its readable text.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("webinfo: url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("webinfo: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webinfo: fetch %s: %w", rawURL, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webinfo: fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("webinfo: read %s: %w", rawURL, err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	var title, text string
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "application/xhtml"):
		title, text = extractReadable(string(body))
	case utf8.Valid(body):
		text = string(body)
	default:
		return nil, fmt.Errorf("webinfo: %s returned binary content (%s)", rawURL, contentType)
	}

	truncated := false
	if len(text) > s.maxChars {
		text = cutUTF8(text, s.maxChars)
		truncated = true
	}

	return &Page{URL: rawURL, Title: title, Text: text, Truncated: truncated}, nil
}

// cutUTF8 shortens s to at most maxChars runes without splitting a
// multi-byte sequence.
func cutUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
