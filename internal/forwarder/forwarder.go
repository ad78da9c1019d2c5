// ABOUTME: Outbound forwarder for messages typed in the browser chat
// ABOUTME: Looks up the agent and routes to Chatwoot or straight to the agent webhook

package forwarder

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/chatwoot-relay/internal/apierr"
	"github.com/2389/chatwoot-relay/internal/auth"
	"github.com/2389/chatwoot-relay/internal/cache"
	"github.com/2389/chatwoot-relay/internal/chatwoot"
	"github.com/2389/chatwoot-relay/internal/metrics"
	"github.com/2389/chatwoot-relay/internal/relay"
	"github.com/2389/chatwoot-relay/internal/store"
)

// Integration names reported in the x-agent-integration header.
const (
	IntegrationChatwoot = "chatwoot"
	IntegrationN8N      = "n8n"
)

// DefaultPassthroughTimeout bounds a whole pass-through exchange, streaming included.
const DefaultPassthroughTimeout = 5 * time.Minute

// File is an uploaded file from the browser form.
type File struct {
	// Field is the form field the file arrived in: file_<n> or audio.
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Request is one message sent from the browser.
type Request struct {
	AgentID        string
	SessionID      string
	UserEmail      string
	UserName       string
	ConversationID string
	Message        string
	VideoAnalysis  bool
	WebhookURL     string
	Files          []File
	Audio          *File
}

// Result is what the browser learns after a Chatwoot send.
type Result struct {
	ConversationID string
	// StreamToken authorizes the SSE stream of ConversationID. Empty when
	// stream tokens are disabled.
	StreamToken string
}

// Config wires the forwarder's collaborators. Agents and Chatwoot are
// required; the rest are optional.
type Config struct {
	Agents   store.AgentStore
	Mappings store.MappingStore
	Chatwoot *chatwoot.Client

	// Conversations caches inbox:sourceId to remote conversation id.
	Conversations *cache.Cache[string]
	Pending       *relay.PendingTracker
	Tokens        *auth.StreamTokens

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Forwarder sends browser messages to their agent.
type Forwarder struct {
	agents        store.AgentStore
	mappings      store.MappingStore
	chatwoot      *chatwoot.Client
	conversations *cache.Cache[string]
	pending       *relay.PendingTracker
	tokens        *auth.StreamTokens
	http          *http.Client
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// New creates a forwarder.
func New(cfg Config) *Forwarder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultPassthroughTimeout}
	}
	return &Forwarder{
		agents:        cfg.Agents,
		mappings:      cfg.Mappings,
		chatwoot:      cfg.Chatwoot,
		conversations: cfg.Conversations,
		pending:       cfg.Pending,
		tokens:        cfg.Tokens,
		http:          cfg.HTTPClient,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "forwarder"),
	}
}

// Agent resolves the agent a request is addressed to.
func (f *Forwarder) Agent(ctx context.Context, agentID string) (*store.Agent, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, apierr.Validation("agentId is required")
	}
	agent, err := f.agents.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apierr.NotFoundError{Resource: "agent", Key: agentID}
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// attachments returns the files to upload to Chatwoot, audio last.
func (r *Request) attachments() []chatwoot.Attachment {
	out := make([]chatwoot.Attachment, 0, len(r.Files)+1)
	for _, file := range r.Files {
		out = append(out, chatwoot.Attachment{Filename: file.Filename, ContentType: file.ContentType, Data: file.Data})
	}
	if r.Audio != nil {
		out = append(out, chatwoot.Attachment{Filename: r.Audio.Filename, ContentType: r.Audio.ContentType, Data: r.Audio.Data})
	}
	return out
}
