package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumen-home/lumen/internal/calendar"
)

// CalendarAdapter manages reminders, alarms, and events through the
// calendar store.
type CalendarAdapter struct {
	store *calendar.Store
}

// NewCalendarAdapter creates the calendar adapter.
func NewCalendarAdapter(store *calendar.Store) *CalendarAdapter {
	return &CalendarAdapter{store: store}
}

// Domain implements [Adapter].
func (a *CalendarAdapter) Domain() string { return "calendar" }

// Register implements [Adapter].
func (a *CalendarAdapter) Register(r *Registry) {
	r.Register(a.Domain(), "create", a.handleCreate)
	r.Register(a.Domain(), "list", a.handleList)
	r.Register(a.Domain(), "delete", a.handleDelete)
	r.Register(a.Domain(), "complete", a.handleComplete)
}

// dueFormats are the timestamp shapes models actually produce.
var dueFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDue(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func (a *CalendarAdapter) handleCreate(ctx context.Context, intent Intent) (string, error) {
	e := &calendar.Event{Title: intent.Target}
	if t, ok := intent.Args["title"].(string); ok && t != "" {
		e.Title = t
	}
	if e.Title == "" {
		return "", errors.New("create event: no title")
	}

	dueStr, _ := intent.Args["due"].(string)
	if dueStr == "" {
		dueStr, _ = intent.Args["time"].(string)
	}
	if dueStr == "" {
		return "", errors.New("create event: no due time")
	}
	due, err := parseDue(dueStr)
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	e.Due = due

	if t, ok := intent.Args["type"].(string); ok {
		e.Type = t
	}
	if rp, ok := intent.Args["repeat"].(string); ok {
		e.Repeat = rp
	}

	if err := a.store.Create(ctx, e); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return fmt.Sprintf("created %s %q due %s", e.Type, e.Title, e.Due.Local().Format("Mon Jan 2 15:04")), nil
}

func (a *CalendarAdapter) handleList(ctx context.Context, intent Intent) (string, error) {
	events, err := a.store.List(ctx, false)
	if err != nil {
		return "", fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return "no upcoming events", nil
	}

	var sb strings.Builder
	for i, e := range events {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s %q at %s", e.Type, e.Title, e.Due.Local().Format("Mon Jan 2 15:04"))
	}
	return sb.String(), nil
}

func (a *CalendarAdapter) handleDelete(ctx context.Context, intent Intent) (string, error) {
	e, err := a.findByReference(ctx, intent)
	if err != nil {
		return "", err
	}
	if err := a.store.Delete(ctx, e.ID); err != nil {
		return "", fmt.Errorf("delete event: %w", err)
	}
	return fmt.Sprintf("deleted %q", e.Title), nil
}

func (a *CalendarAdapter) handleComplete(ctx context.Context, intent Intent) (string, error) {
	e, err := a.findByReference(ctx, intent)
	if err != nil {
		return "", err
	}
	if err := a.store.Complete(ctx, e.ID); err != nil {
		return "", fmt.Errorf("complete event: %w", err)
	}
	return fmt.Sprintf("completed %q", e.Title), nil
}

// findByReference locates an event by ID arg or by title match on the
// spoken target.
func (a *CalendarAdapter) findByReference(ctx context.Context, intent Intent) (*calendar.Event, error) {
	if id, ok := intent.Args["id"].(string); ok && id != "" {
		e, err := a.store.Get(ctx, id)
		if errors.Is(err, calendar.ErrNotFound) {
			return nil, fmt.Errorf("event %q not found", id)
		}
		return e, err
	}

	ref := strings.ToLower(strings.TrimSpace(intent.Target))
	if ref == "" {
		return nil, errors.New("no event named")
	}

	events, err := a.store.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	for _, e := range events {
		title := strings.ToLower(e.Title)
		if title == ref || strings.Contains(title, ref) || strings.Contains(ref, title) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("event %q not found", intent.Target)
}
