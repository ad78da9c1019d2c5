// ABOUTME: Store interfaces and data types for relay persistence
// ABOUTME: Defines agents, durable conversation mappings and recorded relay events

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateAgent is returned when creating an agent whose id is taken
var ErrDuplicateAgent = errors.New("agent already exists")

// Agent is the local configuration of one chat agent.
type Agent struct {
	ID         string
	Name       string
	WebhookURL string
	Path       string
	// ChatwootInboxIdentifier routes the agent's conversations through the
	// support platform. Empty means messages go straight to WebhookURL.
	ChatwootInboxIdentifier string
	RequiresEmail           bool
	CreatedAt               time.Time
}

// UsesChatwoot reports whether the agent is configured for the support platform.
func (a *Agent) UsesChatwoot() bool {
	return a.ChatwootInboxIdentifier != ""
}

// ConversationMapping links a local chat session to a remote conversation.
type ConversationMapping struct {
	ID                     string
	AgentID                string
	Email                  string
	SessionID              string
	ChatwootConversationID string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RelayEvent is one agent message delivered to browsers.
type RelayEvent struct {
	ID              string
	ConversationID  string
	RemoteID        string
	Direction       string
	Content         string
	AttachmentsJSON string
	CreatedAt       time.Time
	RecordedAt      time.Time
}

// AgentStore reads and writes agent configuration.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

// MappingStore persists session to remote conversation mappings.
type MappingStore interface {
	UpsertConversation(ctx context.Context, m *ConversationMapping) error
	ListConversations(ctx context.Context, agentID string) ([]*ConversationMapping, error)
}

// RelayEventStore keeps the transcript of delivered events.
type RelayEventStore interface {
	SaveRelayEvents(ctx context.Context, events []*RelayEvent) error
	ListRelayEvents(ctx context.Context, conversationID string, limit int) ([]*RelayEvent, error)
}

// Store combines every store interface.
type Store interface {
	AgentStore
	MappingStore
	RelayEventStore

	// Ping checks the database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
