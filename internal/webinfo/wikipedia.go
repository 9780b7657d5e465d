package webinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lumen-home/lumen/internal/httpkit"
)

// ErrNoSummary reports that Wikipedia has no article for the topic.
var ErrNoSummary = errors.New("webinfo: no summary for topic")

// wikipediaBase is overridable for tests.
var wikipediaBase = "https://en.wikipedia.org/api/rest_v1"

// Summary is a short topic description from Wikipedia.
type Summary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url,omitempty"`
}

type wikiSummaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summarize looks up a topic through the Wikipedia REST summary API.
// Topics are title-cased with underscores as Wikipedia expects.
func (s *Service) Summarize(ctx context.Context, topic string) (*Summary, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("webinfo: topic is required")
	}

	slug := strings.ReplaceAll(topic, " ", "_")
	endpoint := wikipediaBase + "/page/summary/" + url.PathEscape(slug)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("webinfo: build summary request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webinfo: summary %s: %w", topic, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoSummary, topic)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return nil, fmt.Errorf("webinfo: summary %s: status %d: %s", topic, resp.StatusCode, body)
	}

	var wr wikiSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, fmt.Errorf("webinfo: decode summary: %w", err)
	}
	if strings.TrimSpace(wr.Extract) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSummary, topic)
	}

	return &Summary{
		Title:   wr.Title,
		Extract: wr.Extract,
		URL:     wr.ContentURLs.Desktop.Page,
	}, nil
}
