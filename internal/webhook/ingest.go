// ABOUTME: Applies verified webhook deliveries to label state and subscribers
// ABOUTME: Records which conversations have started receiving webhooks

package webhook

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/2389/chatwoot-relay/internal/cache"
	"github.com/2389/chatwoot-relay/internal/metrics"
	"github.com/2389/chatwoot-relay/internal/relay"
)

// Result summarizes what one delivery caused.
type Result struct {
	Event          string
	ConversationID string
	Messages       int
	Handoff        bool
}

// Ingester turns webhook bodies into published events.
type Ingester struct {
	dispatcher *relay.Dispatcher
	received   *cache.Cache[struct{}]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewIngester creates an ingester. received remembers conversations that
// have seen a webhook so bootstrap polling can stop.
func NewIngester(dispatcher *relay.Dispatcher, received *cache.Cache[struct{}], m *metrics.Metrics, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		dispatcher: dispatcher,
		received:   received,
		metrics:    m,
		logger:     logger.With("component", "webhook"),
	}
}

// Received reports whether a webhook has arrived for the conversation.
func (i *Ingester) Received(conversationID string) bool {
	return i.received.Has(conversationID)
}

// Ingest processes a verified body. Empty bodies are a no-op.
func (i *Ingester) Ingest(body []byte) Result {
	if len(strings.TrimSpace(string(body))) == 0 {
		i.metrics.WebhookReceived("empty")
		return Result{}
	}
	if !json.Valid(body) {
		i.metrics.WebhookReceived("invalid")
		i.logger.Warn("ignoring webhook with invalid JSON", "bytes", len(body))
		return Result{}
	}

	p := Extract(body)
	res := Result{Event: p.Event, ConversationID: p.ConversationID}

	i.logger.Info("webhook received", "event", p.Event, "conversation_id", p.ConversationID)

	if p.ConversationID == "" {
		i.metrics.WebhookReceived("no_conversation")
		return res
	}
	i.received.Set(p.ConversationID, struct{}{})

	if p.HasLabels {
		res.Handoff = i.dispatcher.DeliverLabels(p.ConversationID, p.Labels)
	}

	if p.Message.Exists() {
		raw := json.RawMessage(p.Message.Raw)
		res.Messages = i.dispatcher.DeliverMessages(p.ConversationID, []json.RawMessage{raw}, true)
	}

	i.metrics.WebhookReceived("ok")
	return res
}
