package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Inventory caches the entity list so prompt construction and intent
// resolution do not hit the HA API on every turn. A stale snapshot is
// better than no snapshot: if a refresh fails, the previous entities
// are retained.
type Inventory struct {
	client  *Client
	logger  *slog.Logger
	maxAge  time.Duration
	mu      sync.RWMutex
	items   []Entity
	fetched time.Time
}

// NewInventory creates an inventory refreshed at most every maxAge.
func NewInventory(client *Client, maxAge time.Duration, logger *slog.Logger) *Inventory {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Inventory{client: client, logger: logger, maxAge: maxAge}
}

// Entities returns the cached entity list, refreshing it if stale.
func (inv *Inventory) Entities(ctx context.Context) ([]Entity, error) {
	inv.mu.RLock()
	fresh := time.Since(inv.fetched) < inv.maxAge && inv.items != nil
	items := inv.items
	inv.mu.RUnlock()

	if fresh {
		return items, nil
	}

	entities, err := inv.client.GetEntities(ctx)
	if err != nil {
		if items != nil {
			if inv.logger != nil {
				inv.logger.Warn("entity refresh failed, using cached inventory",
					"cached", len(items), "error", err)
			}
			return items, nil
		}
		return nil, err
	}

	inv.mu.Lock()
	inv.items = entities
	inv.fetched = time.Now()
	inv.mu.Unlock()

	return entities, nil
}

// PromptFragment formats the entity inventory as a system prompt
// section listing addressable devices grouped by domain.
func PromptFragment(entities []Entity) string {
	if len(entities) == 0 {
		return "No smart home devices are currently available."
	}

	byDomain := map[string][]Entity{}
	var domains []string
	for _, e := range entities {
		if _, seen := byDomain[e.Domain]; !seen {
			domains = append(domains, e.Domain)
		}
		byDomain[e.Domain] = append(byDomain[e.Domain], e)
	}

	var sb strings.Builder
	sb.WriteString("Available smart home devices:\n")
	for _, d := range domains {
		fmt.Fprintf(&sb, "%s:\n", d)
		for _, e := range byDomain[d] {
			name := e.FriendlyName
			if name == "" {
				name = e.EntityID
			}
			if e.Area != "" {
				fmt.Fprintf(&sb, "  - %s (%s, %s)\n", name, e.EntityID, e.Area)
			} else {
				fmt.Fprintf(&sb, "  - %s (%s)\n", name, e.EntityID)
			}
		}
	}
	return sb.String()
}
