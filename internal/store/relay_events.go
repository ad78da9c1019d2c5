// ABOUTME: Transcript of events relayed to browsers
// ABOUTME: Batch inserts that ignore events already recorded

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveRelayEvents inserts events in one transaction. Events whose id is
// already stored are skipped.
func (s *SQLiteStore) SaveRelayEvents(ctx context.Context, events []*RelayEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO relay_events
			(id, conversation_id, remote_id, direction, content, attachments_json, created_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		recordedAt := ev.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			ev.ConversationID,
			ev.RemoteID,
			ev.Direction,
			ev.Content,
			nullString(ev.AttachmentsJSON),
			formatTime(ev.CreatedAt),
			formatTime(recordedAt),
		); err != nil {
			return fmt.Errorf("inserting relay event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing relay events: %w", err)
	}
	s.logger.Debug("saved relay events", "count", len(events))
	return nil
}

// ListRelayEvents returns up to limit events of a conversation, oldest first.
// A non-positive limit defaults to 100.
func (s *SQLiteStore) ListRelayEvents(ctx context.Context, conversationID string, limit int) ([]*RelayEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, remote_id, direction, content,
		       COALESCE(attachments_json, ''), created_at, recorded_at
		FROM (
			SELECT * FROM relay_events
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying relay events: %w", err)
	}
	defer rows.Close()

	var events []*RelayEvent
	for rows.Next() {
		var (
			ev                    RelayEvent
			createdAt, recordedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.RemoteID, &ev.Direction, &ev.Content,
			&ev.AttachmentsJSON, &createdAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning relay event: %w", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if ev.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
