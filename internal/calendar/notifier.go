package calendar

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// NotifyFunc receives events as they come due. Callbacks run on the
// notifier goroutine; slow callbacks delay subsequent scans.
type NotifyFunc func(e *Event)

// Notifier periodically scans the store for due events and delivers
// each one exactly once per occurrence. The scan window reaches back
// past the tick interval so an event falling between ticks is not
// missed, and a grace period catches events that came due while the
// process was briefly down.
type Notifier struct {
	store    *Store
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	notify   NotifyFunc

	mu        sync.Mutex
	triggered map[string]time.Time
}

// NewNotifier creates a notifier scanning every interval.
func NewNotifier(store *Store, interval time.Duration, notify NotifyFunc, logger *slog.Logger) *Notifier {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Notifier{
		store:     store,
		logger:    logger,
		interval:  interval,
		grace:     90 * time.Second,
		notify:    notify,
		triggered: map[string]time.Time{},
	}
}

// Run scans until ctx is cancelled. It performs an immediate scan on
// start so events due during a restart are announced right away.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	n.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.scan(ctx)
		}
	}
}

func (n *Notifier) scan(ctx context.Context) {
	now := time.Now()
	events, err := n.store.DueBetween(ctx, now.Add(-n.grace), now.Add(n.interval))
	if err != nil {
		if n.logger != nil {
			n.logger.Error("calendar scan failed", "error", err)
		}
		return
	}

	for _, e := range events {
		if e.Due.After(now) {
			continue // due within the window but not yet
		}
		if !n.markTriggered(e) {
			continue
		}
		if n.logger != nil {
			n.logger.Info("calendar event due", "id", e.ID, "type", e.Type, "title", e.Title)
		}
		n.notify(e)
	}

	n.cleanup(now)
}

// markTriggered records the occurrence and reports whether it was new.
// Repeating events key on due time too, so the next occurrence fires
// even though the event ID is unchanged.
func (n *Notifier) markTriggered(e *Event) bool {
	key := e.ID + "@" + e.Due.UTC().Format(time.RFC3339)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.triggered[key]; seen {
		return false
	}
	n.triggered[key] = time.Now()
	return true
}

// cleanup drops trigger records older than five minutes. By then the
// occurrence is well outside the scan window and cannot re-fire.
func (n *Notifier) cleanup(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, at := range n.triggered {
		if now.Sub(at) > 5*time.Minute {
			delete(n.triggered, key)
		}
	}
}
