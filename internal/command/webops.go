package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumen-home/lumen/internal/webinfo"
)

// WebAdapter answers information queries through the web lookup
// service.
type WebAdapter struct {
	service *webinfo.Service
}

// NewWebAdapter creates the web adapter.
func NewWebAdapter(service *webinfo.Service) *WebAdapter {
	return &WebAdapter{service: service}
}

// Domain implements [Adapter].
func (a *WebAdapter) Domain() string { return "web" }

// Register implements [Adapter].
func (a *WebAdapter) Register(r *Registry) {
	r.Register(a.Domain(), "lookup", a.handleLookup)
	r.Register(a.Domain(), "fetch", a.handleFetch)
}

func (a *WebAdapter) handleLookup(ctx context.Context, intent Intent) (string, error) {
	topic := intent.Target
	if t, ok := intent.Args["topic"].(string); ok && t != "" {
		topic = t
	}
	if topic == "" {
		return "", errors.New("lookup: no topic given")
	}

	sum, err := a.service.Summarize(ctx, topic)
	if errors.Is(err, webinfo.ErrNoSummary) {
		return "", fmt.Errorf("nothing found about %q", topic)
	}
	if err != nil {
		return "", fmt.Errorf("lookup %q: %w", topic, err)
	}
	return sum.Extract, nil
}

func (a *WebAdapter) handleFetch(ctx context.Context, intent Intent) (string, error) {
	url := intent.Target
	if u, ok := intent.Args["url"].(string); ok && u != "" {
		url = u
	}
	if url == "" {
		return "", errors.New("fetch: no url given")
	}

	page, err := a.service.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return page.Text, nil
}
