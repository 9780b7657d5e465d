// Package calendar provides persistence and due-time notification for
// reminders, alarms, and scheduled events.
package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Event types. Alarms are loud and repeat until acknowledged; reminders
// and events are announced once.
const (
	TypeReminder = "reminder"
	TypeAlarm    = "alarm"
	TypeEvent    = "event"
)

// Repeat patterns.
const (
	RepeatNone    = "none"
	RepeatDaily   = "daily"
	RepeatWeekly  = "weekly"
	RepeatMonthly = "monthly"
)

// ErrNotFound reports that no event exists with the given ID.
var ErrNotFound = errors.New("calendar: event not found")

// Event is a single scheduled item.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Due       time.Time `json:"due"`
	Repeat    string    `json:"repeat,omitempty"`
	Completed bool      `json:"completed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages calendar event persistence.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the calendar database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open calendar db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate calendar: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			due TIMESTAMP NOT NULL,
			repeat TEXT NOT NULL DEFAULT 'none',
			completed BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_due ON events(completed, due);
	`)
	return err
}

func validType(t string) bool {
	return t == TypeReminder || t == TypeAlarm || t == TypeEvent
}

func validRepeat(r string) bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	}
	return false
}

// Create adds a new event. Type defaults to reminder and repeat to none.
func (s *Store) Create(ctx context.Context, e *Event) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate event id: %w", err)
		}
		e.ID = id.String()
	}
	if e.Type == "" {
		e.Type = TypeReminder
	}
	if !validType(e.Type) {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if e.Repeat == "" {
		e.Repeat = RepeatNone
	}
	if !validRepeat(e.Repeat) {
		return fmt.Errorf("invalid repeat pattern %q", e.Repeat)
	}
	if e.Title == "" {
		return errors.New("event title is required")
	}
	if e.Due.IsZero() {
		return errors.New("event due time is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Due = e.Due.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, title, due, repeat, completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Type, e.Title, e.Due, e.Repeat, e.Completed, e.CreatedAt)
	return err
}

// Get retrieves one event by ID.
func (s *Store) Get(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, due, repeat, completed, created_at
		FROM events WHERE id = ?
	`, id)

	e := &Event{}
	err := row.Scan(&e.ID, &e.Type, &e.Title, &e.Due, &e.Repeat, &e.Completed, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns all pending events ordered by due time. If includeDone is
// set, completed events are returned as well.
func (s *Store) List(ctx context.Context, includeDone bool) ([]*Event, error) {
	q := `
		SELECT id, type, title, due, repeat, completed, created_at
		FROM events WHERE completed = 0 ORDER BY due ASC`
	if includeDone {
		q = `
		SELECT id, type, title, due, repeat, completed, created_at
		FROM events ORDER BY due ASC`
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// DueBetween returns pending events whose due time falls in [from, to].
func (s *Store) DueBetween(ctx context.Context, from, to time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, due, repeat, completed, created_at
		FROM events
		WHERE completed = 0 AND due >= ? AND due <= ?
		ORDER BY due ASC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Complete marks an event done. Repeating events are not completed:
// their due time advances to the next occurrence instead.
func (s *Store) Complete(ctx context.Context, id string) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if e.Repeat != RepeatNone && e.Repeat != "" {
		next := nextOccurrence(e.Due, e.Repeat, time.Now().UTC())
		_, err := s.db.ExecContext(ctx, `UPDATE events SET due = ? WHERE id = ?`, next, id)
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE events SET completed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// nextOccurrence advances due by its repeat pattern until it is after
// now, so a reminder missed across a downtime does not fire repeatedly
// to catch up.
func nextOccurrence(due time.Time, repeat string, now time.Time) time.Time {
	next := due
	for !next.After(now) {
		switch repeat {
		case RepeatDaily:
			next = next.AddDate(0, 0, 1)
		case RepeatWeekly:
			next = next.AddDate(0, 0, 7)
		case RepeatMonthly:
			next = next.AddDate(0, 1, 0)
		default:
			return due
		}
	}
	return next
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var result []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Type, &e.Title, &e.Due, &e.Repeat, &e.Completed, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
