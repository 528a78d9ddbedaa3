// ABOUTME: Append-only SQLite audit trail of messages routed by the bridge.
// ABOUTME: Written for operators to inspect; never read back to rebuild sessions.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("ledger closed")

// Directions recorded in the ledger.
const (
	UserToPlatform = "user_to_platform"
	BotToPlatform  = "bot_to_platform"
	BotToUser      = "bot_to_user"
	AgentToUser    = "agent_to_user"
	Note           = "note"
)

// Entry is one routed message.
type Entry struct {
	ID             string    `json:"id"`
	Direction      string    `json:"direction"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter narrows Entries. Empty fields match everything.
type Filter struct {
	UserID         string
	ConversationID string
	Limit          int
}

// UserLookup maps a remote conversation to a chat user.
type UserLookup interface {
	FindByRemoteConversationID(conversationID string) (string, bool)
}

// Ledger records routed traffic.
type Ledger interface {
	Record(ctx context.Context, direction, conversationID, text string)
	RecordUser(ctx context.Context, direction, userID, text string)
	Entries(ctx context.Context, f Filter) ([]Entry, error)
	Close() error
}

// SQLite is a Ledger backed by modernc.org/sqlite.
type SQLite struct {
	db     *sql.DB
	lookup UserLookup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the ledger database at path.
func Open(path string, lookup UserLookup, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger = logger.With("component", "ledger")
	logger.Info("ledger opened", "path", path)
	return &SQLite{db: db, lookup: lookup, logger: logger}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS routed_messages (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_routed_user_created
		ON routed_messages(user_id, created_at);

	CREATE INDEX IF NOT EXISTS idx_routed_conversation_created
		ON routed_messages(conversation_id, created_at);
`

// Record stores a message addressed by remote conversation.
func (s *SQLite) Record(ctx context.Context, direction, conversationID, text string) {
	userID := ""
	if s.lookup != nil {
		userID, _ = s.lookup.FindByRemoteConversationID(conversationID)
	}
	s.insert(ctx, Entry{Direction: direction, UserID: userID, ConversationID: conversationID, Text: text})
}

// RecordUser stores a message addressed by chat user.
func (s *SQLite) RecordUser(ctx context.Context, direction, userID, text string) {
	s.insert(ctx, Entry{Direction: direction, UserID: userID, Text: text})
}

func (s *SQLite) insert(ctx context.Context, e Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	e.ID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routed_messages (id, direction, user_id, conversation_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Direction, e.UserID, e.ConversationID, e.Text, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Error("recording message failed", "direction", e.Direction, "error", err)
	}
}

// Entries returns matching entries, newest first.
func (s *SQLite) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, user_id, conversation_id, text, created_at
		 FROM routed_messages
		 WHERE (? = '' OR user_id = ?) AND (? = '' OR conversation_id = ?)
		 ORDER BY created_at DESC
		 LIMIT ?`,
		f.UserID, f.UserID, f.ConversationID, f.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.Direction, &e.UserID, &e.ConversationID, &e.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ Ledger = (*SQLite)(nil)

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string)     {}
func (Nop) RecordUser(context.Context, string, string, string) {}
func (Nop) Entries(context.Context, Filter) ([]Entry, error)   { return nil, nil }
func (Nop) Close() error                                       { return nil }
