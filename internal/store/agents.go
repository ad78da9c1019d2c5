// ABOUTME: Agent configuration persistence
// ABOUTME: CRUD over the agents table

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAgent inserts an agent. CreatedAt defaults to now.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, webhook_url, path, chatwoot_inbox_identifier, requires_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		agent.ID,
		agent.Name,
		agent.WebhookURL,
		agent.Path,
		agent.ChatwootInboxIdentifier,
		agent.RequiresEmail,
		formatTime(agent.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "id", agent.ID, "chatwoot", agent.UsesChatwoot())
	return nil
}

// GetAgent returns the agent with the given id or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, webhook_url, path, chatwoot_inbox_identifier, requires_email, created_at
		FROM agents
		WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns every agent ordered by id.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, webhook_url, path, chatwoot_inbox_identifier, requires_email, created_at
		FROM agents
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		agent     Agent
		createdAt string
	)
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.WebhookURL,
		&agent.Path,
		&agent.ChatwootInboxIdentifier,
		&agent.RequiresEmail,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	agent.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &agent, nil
}
