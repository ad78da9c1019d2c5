// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers agents, conversation mapping upserts and relay event batches

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "relay.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if err := s.CreateAgent(context.Background(), &Agent{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
}

func TestAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &Agent{
		ID:                      "support",
		Name:                    "Support",
		WebhookURL:              "https://n8n.example.com/hook",
		Path:                    "/support",
		ChatwootInboxIdentifier: "inbox-abc",
		RequiresEmail:           true,
		CreatedAt:               time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	if err := s.CreateAgent(ctx, &Agent{ID: "support", Name: "dup"}); !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("duplicate CreateAgent error = %v, want ErrDuplicateAgent", err)
	}

	got, err := s.GetAgent(ctx, "support")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Name != agent.Name || got.WebhookURL != agent.WebhookURL || got.Path != agent.Path {
		t.Errorf("GetAgent = %+v, want %+v", got, agent)
	}
	if got.ChatwootInboxIdentifier != "inbox-abc" || !got.RequiresEmail {
		t.Errorf("GetAgent lost chatwoot settings: %+v", got)
	}
	if !got.CreatedAt.Equal(agent.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, agent.CreatedAt)
	}
	if !got.UsesChatwoot() {
		t.Error("agent with inbox identifier should use chatwoot")
	}

	if _, err := s.GetAgent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAgent(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.CreateAgent(ctx, &Agent{ID: "direct", Name: "Direct", WebhookURL: "https://hook"}); err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 2 || agents[0].ID != "direct" || agents[1].ID != "support" {
		t.Errorf("ListAgents returned unexpected agents: %+v", agents)
	}

	if err := s.DeleteAgent(ctx, "direct"); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}
	if err := s.DeleteAgent(ctx, "direct"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteAgent error = %v, want ErrNotFound", err)
	}
}

func TestUpsertConversation_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertConversation(ctx, &ConversationMapping{
		AgentID: "support", Email: "Alice@Example.com", SessionID: "s1", ChatwootConversationID: "42",
	})
	if err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	err = s.UpsertConversation(ctx, &ConversationMapping{
		AgentID: "support", Email: "alice@example.com", SessionID: "s2", ChatwootConversationID: "42",
	})
	if err != nil {
		t.Fatalf("second UpsertConversation failed: %v", err)
	}

	mappings, err := s.ListConversations(ctx, "support")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].SessionID != "s2" || mappings[0].ChatwootConversationID != "42" {
		t.Errorf("mapping not updated: %+v", mappings[0])
	}
}

func TestUpsertConversation_CompletesPendingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreatePendingConversation(ctx, "support", "alice@example.com", "s1"); err != nil {
		t.Fatalf("CreatePendingConversation failed: %v", err)
	}

	err := s.UpsertConversation(ctx, &ConversationMapping{
		AgentID: "support", Email: "ALICE@example.com", SessionID: "s1", ChatwootConversationID: "99",
	})
	if err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	mappings, err := s.ListConversations(ctx, "support")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("pending row should be completed in place, got %d rows", len(mappings))
	}
	if mappings[0].ChatwootConversationID != "99" {
		t.Errorf("ChatwootConversationID = %q, want 99", mappings[0].ChatwootConversationID)
	}
}

func TestUpsertConversation_PendingRowOfOtherAgentUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreatePendingConversation(ctx, "other", "alice@example.com", ""); err != nil {
		t.Fatalf("CreatePendingConversation failed: %v", err)
	}
	if err := s.UpsertConversation(ctx, &ConversationMapping{
		AgentID: "support", Email: "alice@example.com", ChatwootConversationID: "5",
	}); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}

	other, _ := s.ListConversations(ctx, "other")
	if len(other) != 1 || other[0].ChatwootConversationID != "" {
		t.Errorf("other agent's pending row changed: %+v", other)
	}
}

func TestUpsertConversation_RequiresIDs(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpsertConversation(context.Background(), &ConversationMapping{AgentID: "a"}); err == nil {
		t.Error("expected error without remote conversation id")
	}
}

func TestRelayEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []*RelayEvent{
		{ID: "42-2", ConversationID: "42", RemoteID: "2", Direction: "outbound", Content: "second", CreatedAt: base.Add(2 * time.Second)},
		{ID: "42-1", ConversationID: "42", RemoteID: "1", Direction: "outbound", Content: "first", CreatedAt: base.Add(time.Second), AttachmentsJSON: `[{"name":"a.png"}]`},
		{ID: "7-1", ConversationID: "7", RemoteID: "1", Direction: "outbound", Content: "elsewhere", CreatedAt: base},
	}
	if err := s.SaveRelayEvents(ctx, events); err != nil {
		t.Fatalf("SaveRelayEvents failed: %v", err)
	}
	if err := s.SaveRelayEvents(ctx, events[:1]); err != nil {
		t.Fatalf("re-saving an event should be ignored, got %v", err)
	}

	got, err := s.ListRelayEvents(ctx, "42", 0)
	if err != nil {
		t.Fatalf("ListRelayEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("events out of order: %q, %q", got[0].Content, got[1].Content)
	}
	if got[0].AttachmentsJSON != `[{"name":"a.png"}]` {
		t.Errorf("AttachmentsJSON = %q", got[0].AttachmentsJSON)
	}

	latest, err := s.ListRelayEvents(ctx, "42", 1)
	if err != nil {
		t.Fatalf("ListRelayEvents failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Content != "second" {
		t.Errorf("limit should keep the newest events, got %+v", latest)
	}
}
