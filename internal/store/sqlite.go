// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and creates the schema on first use

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id                        TEXT PRIMARY KEY,
			name                      TEXT NOT NULL,
			webhook_url               TEXT NOT NULL DEFAULT '',
			path                      TEXT NOT NULL DEFAULT '',
			chatwoot_inbox_identifier TEXT NOT NULL DEFAULT '',
			requires_email            INTEGER NOT NULL DEFAULT 0,
			created_at                TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chatwoot_conversations (
			id                       TEXT PRIMARY KEY,
			agent_id                 TEXT NOT NULL,
			email                    TEXT,
			session_id               TEXT,
			chatwoot_conversation_id TEXT,
			created_at               TEXT NOT NULL,
			updated_at               TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_chatwoot_conversations_remote
			ON chatwoot_conversations(agent_id, chatwoot_conversation_id);
		CREATE INDEX IF NOT EXISTS idx_chatwoot_conversations_email
			ON chatwoot_conversations(agent_id, email COLLATE NOCASE);
		CREATE INDEX IF NOT EXISTS idx_chatwoot_conversations_session
			ON chatwoot_conversations(agent_id, session_id);

		CREATE TABLE IF NOT EXISTS relay_events (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			remote_id        TEXT NOT NULL,
			direction        TEXT NOT NULL,
			content          TEXT NOT NULL,
			attachments_json TEXT,
			created_at       TEXT NOT NULL,
			recorded_at      TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound'))
		);

		CREATE INDEX IF NOT EXISTS idx_relay_events_conversation
			ON relay_events(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString maps an empty string to SQL NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
