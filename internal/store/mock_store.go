// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	mappings []*ConversationMapping
	events   map[string]*RelayEvent // keyed by event ID

	// PingErr is returned by Ping when set.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*Agent),
		events: make(map[string]*RelayEvent),
	}
}

// CreateAgent stores a new agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[agent.ID]; exists {
		return ErrDuplicateAgent
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}

	// Make a copy to avoid external modification
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// ListAgents returns all agents ordered by ID.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		c := *a
		agents = append(agents, &c)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// DeleteAgent removes an agent.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

// UpsertConversation mirrors the SQLite matching rules.
func (m *MockStore) UpsertConversation(ctx context.Context, mapping *ConversationMapping) error {
	if mapping.AgentID == "" || mapping.ChatwootConversationID == "" {
		return fmt.Errorf("upsert conversation: agent id and remote conversation id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.TrimSpace(mapping.Email)
	now := time.Now()

	if email != "" || mapping.SessionID != "" {
		for _, existing := range m.mappings {
			if existing.AgentID != mapping.AgentID || existing.ChatwootConversationID != "" {
				continue
			}
			emailMatch := email != "" && strings.EqualFold(existing.Email, email)
			sessionMatch := mapping.SessionID != "" && existing.SessionID == mapping.SessionID
			if emailMatch || sessionMatch {
				existing.Email = email
				existing.SessionID = mapping.SessionID
				existing.ChatwootConversationID = mapping.ChatwootConversationID
				existing.UpdatedAt = now
				return nil
			}
		}
	}

	for _, existing := range m.mappings {
		if existing.AgentID == mapping.AgentID && existing.ChatwootConversationID == mapping.ChatwootConversationID {
			existing.Email = email
			existing.SessionID = mapping.SessionID
			existing.UpdatedAt = now
			return nil
		}
	}

	m.mappings = append(m.mappings, &ConversationMapping{
		ID:                     uuid.New().String(),
		AgentID:                mapping.AgentID,
		Email:                  email,
		SessionID:              mapping.SessionID,
		ChatwootConversationID: mapping.ChatwootConversationID,
		CreatedAt:              now,
		UpdatedAt:              now,
	})
	return nil
}

// ListConversations returns an agent's mappings, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, agentID string) ([]*ConversationMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ConversationMapping
	for _, mapping := range m.mappings {
		if mapping.AgentID == agentID {
			c := *mapping
			result = append(result, &c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

// SaveRelayEvents stores events, skipping ids already present.
func (m *MockStore) SaveRelayEvents(ctx context.Context, events []*RelayEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		if _, exists := m.events[ev.ID]; exists {
			continue
		}
		c := *ev
		if c.RecordedAt.IsZero() {
			c.RecordedAt = time.Now()
		}
		m.events[c.ID] = &c
	}
	return nil
}

// ListRelayEvents returns the newest limit events of a conversation, oldest first.
func (m *MockStore) ListRelayEvents(ctx context.Context, conversationID string, limit int) ([]*RelayEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RelayEvent
	for _, ev := range m.events {
		if ev.ConversationID == conversationID {
			c := *ev
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
