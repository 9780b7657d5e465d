// Package memory provides durable conversation history storage.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Roles recorded against messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored exchange entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation groups messages under one session.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a SQLite-backed conversation store. History is written only
// when a turn fully completes, so a crashed turn never leaves a
// half-recorded exchange behind.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the conversation database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		word_count INTEGER DEFAULT 0,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	`)
	return err
}

// AppendTurn records one completed exchange: the user utterance and
// the assistant's final reply, in order.
func (s *Store) AppendTurn(ctx context.Context, conversationID, utterance, reply string) error {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, conversationID, now, now); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	for _, msg := range []struct {
		role    string
		content string
	}{
		{RoleUser, utterance},
		{RoleAssistant, reply},
	} {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, timestamp, word_count)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id.String(), conversationID, msg.role, msg.content, now, countWords(msg.content)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, now, conversationID); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit()
}

// History returns the most recent messages of a conversation in
// chronological order, at most limit entries.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp FROM (
			SELECT role, content, timestamp, rowid FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, rowid DESC
			LIMIT ?
		) ORDER BY timestamp ASC, rowid ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastNWords returns the newest messages whose combined word count
// does not exceed n, chronologically ordered. This is the raw material
// the prompt budget selects from.
func (s *Store) LastNWords(ctx context.Context, conversationID string, n int) ([]Message, error) {
	// Fetch by message count and trim by words in memory; word-accurate
	// SQL would need a running total sqlite cannot index. Every stored
	// message holds at least one word, so n messages cover an n-word
	// budget.
	recent, err := s.History(ctx, conversationID, n)
	if err != nil {
		return nil, err
	}
	return TrimToWords(recent, n), nil
}

// Clear removes a conversation and its messages.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// Conversations lists known conversations, most recently active first.
func (s *Store) Conversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TrimToWords keeps the newest whole messages fitting within n words,
// preserving chronological order.
func TrimToWords(messages []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	start := len(messages)
	remaining := n
	for i := len(messages) - 1; i >= 0; i-- {
		words := countWords(messages[i].Content)
		if words > remaining {
			break
		}
		remaining -= words
		start = i
	}
	if start == len(messages) {
		return nil
	}
	return messages[start:]
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
