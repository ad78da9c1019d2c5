// ABOUTME: Durable mapping of local chat sessions to remote conversations
// ABOUTME: Fills pending rows first, otherwise upserts on agent and remote id

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpsertConversation records that m.AgentID's session or email maps to
// m.ChatwootConversationID.
//
// A row for the same agent whose email (case-insensitive) or session id
// matches and which has no remote id yet is completed in place. Otherwise the
// row keyed by (agent, remote id) is inserted or updated.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, m *ConversationMapping) error {
	if m.AgentID == "" || m.ChatwootConversationID == "" {
		return fmt.Errorf("upsert conversation: agent id and remote conversation id are required")
	}

	email := strings.TrimSpace(m.Email)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if email != "" || m.SessionID != "" {
		query := `UPDATE chatwoot_conversations
			SET email = ?, session_id = ?, chatwoot_conversation_id = ?, updated_at = ?
			WHERE id = (
				SELECT id FROM chatwoot_conversations
				WHERE agent_id = ? AND chatwoot_conversation_id IS NULL`
		args := []any{nullString(email), nullString(m.SessionID), m.ChatwootConversationID, formatTime(now), m.AgentID}
		switch {
		case email != "" && m.SessionID != "":
			query += ` AND (email = ? COLLATE NOCASE OR session_id = ?)`
			args = append(args, email, m.SessionID)
		case email != "":
			query += ` AND email = ? COLLATE NOCASE`
			args = append(args, email)
		default:
			query += ` AND session_id = ?`
			args = append(args, m.SessionID)
		}
		query += ` ORDER BY created_at LIMIT 1)`

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("completing pending conversation: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return tx.Commit()
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chatwoot_conversations
			(id, agent_id, email, session_id, chatwoot_conversation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, chatwoot_conversation_id) DO UPDATE SET
			email = excluded.email,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`,
		uuid.New().String(),
		m.AgentID,
		nullString(email),
		nullString(m.SessionID),
		m.ChatwootConversationID,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}
	return tx.Commit()
}

// CreatePendingConversation records a session that has no remote
// conversation yet. UpsertConversation completes it later.
func (s *SQLiteStore) CreatePendingConversation(ctx context.Context, agentID, email, sessionID string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chatwoot_conversations (id, agent_id, email, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), agentID, nullString(strings.TrimSpace(email)), nullString(sessionID), now, now)
	if err != nil {
		return fmt.Errorf("inserting pending conversation: %w", err)
	}
	return nil
}

// ListConversations returns an agent's mappings, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, agentID string) ([]*ConversationMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, COALESCE(email, ''), COALESCE(session_id, ''),
		       COALESCE(chatwoot_conversation_id, ''), created_at, updated_at
		FROM chatwoot_conversations
		WHERE agent_id = ?
		ORDER BY updated_at DESC, id
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var mappings []*ConversationMapping
	for rows.Next() {
		var (
			m                    ConversationMapping
			createdAt, updatedAt string
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Email, &m.SessionID, &m.ChatwootConversationID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}
