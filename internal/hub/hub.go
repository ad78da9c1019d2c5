// ABOUTME: In-memory fan-out hub delivering SSE frames per conversation
// ABOUTME: Owns subscriber heartbeats and removes sinks that fail to accept frames

package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names written on the wire.
const (
	EventConnected = "connected"
	EventMessage   = "chatwoot_message"
	EventHandoff   = "chatwoot_handoff"
	EventPing      = "ping"
	EventDrain     = "drain"
	EventClosed    = "closed"
)

// DefaultPingInterval is the heartbeat period when Options leaves it unset.
const DefaultPingInterval = 25 * time.Second

// Sink accepts encoded SSE frames for one client. Send may wait while the
// client catches up, so publishing is paced by the slowest subscriber, but it
// must fail once the client is gone or stalled. An error tells the hub to
// drop the subscriber.
type Sink interface {
	Send(frame []byte) error
	Close()
}

// Options configures a Hub.
type Options struct {
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Subscriber is one sink registered for a conversation.
type Subscriber struct {
	ID             string
	ConversationID string

	sink Sink
	stop chan struct{}
	once sync.Once
}

func (s *Subscriber) halt() {
	s.once.Do(func() { close(s.stop) })
}

// Hub fans frames out to the subscribers of each conversation.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]map[string]*Subscriber // conversationID -> subID -> sub
	closed        bool

	// publishMu serializes frame delivery so every subscriber of a
	// conversation sees events in publish order.
	publishMu sync.Mutex

	pingInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// New creates a hub. Pass a zero Options for defaults.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Hub{
		conversations: make(map[string]map[string]*Subscriber),
		pingInterval:  interval,
		now:           time.Now,
		logger:        logger.With("component", "hub"),
	}
}

// Encode renders one SSE frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(event)+len(data)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, event...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// Subscribe registers sink for a conversation, starts its heartbeat and
// sends the connected event. After Shutdown the sink is closed immediately.
func (h *Hub) Subscribe(conversationID string, sink Sink) *Subscriber {
	sub := &Subscriber{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		sink:           sink,
		stop:           make(chan struct{}),
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.halt()
		sink.Close()
		return sub
	}
	subs, ok := h.conversations[conversationID]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.conversations[conversationID] = subs
	}
	subs[sub.ID] = sub
	clients := len(subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", sub.ID,
		"clients", clients)

	frame, _ := Encode(EventConnected, map[string]any{
		"conversationId": conversationID,
		"clients":        clients,
	})
	if !h.deliver(sub, frame) {
		return sub
	}

	go h.heartbeat(sub)
	return sub
}

func (h *Hub) heartbeat(sub *Subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
			frame, _ := Encode(EventPing, map[string]int64{"ts": h.now().UnixMilli()})
			h.publishMu.Lock()
			ok := h.deliver(sub, frame)
			h.publishMu.Unlock()
			if !ok {
				return
			}
		}
	}
}

// Publish sends one event to every subscriber of the conversation and
// returns how many subscribers were registered when the call started.
func (h *Hub) Publish(conversationID, event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("encode event failed", "event", event, "error", err)
		return 0
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	targets := h.snapshot(conversationID)
	for _, sub := range targets {
		h.deliver(sub, frame)
	}
	return len(targets)
}

// deliver writes frame to one subscriber, removing it on failure.
// Callers hold publishMu.
func (h *Hub) deliver(sub *Subscriber, frame []byte) bool {
	if err := sub.sink.Send(frame); err != nil {
		h.logger.Debug("dropping subscriber after failed send",
			"conversation_id", sub.ConversationID,
			"sub_id", sub.ID,
			"error", err)
		if h.remove(sub) {
			sub.sink.Close()
		}
		return false
	}
	return true
}

func (h *Hub) snapshot(conversationID string) []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.conversations[conversationID]
	targets := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub)
	}
	return targets
}

// remove detaches sub and reports whether it was still registered.
func (h *Hub) remove(sub *Subscriber) bool {
	sub.halt()

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conversations[sub.ConversationID]
	if !ok {
		return false
	}
	if _, exists := subs[sub.ID]; !exists {
		return false
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.conversations, sub.ConversationID)
	}
	return true
}

// Unsubscribe stops the subscriber's heartbeat and removes it. The sink is
// left to its owner. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	if h.remove(sub) {
		h.logger.Debug("subscriber removed",
			"conversation_id", sub.ConversationID,
			"sub_id", sub.ID)
	}
}

// CloseAll sends closed to every subscriber of the conversation, then
// closes and removes them.
func (h *Hub) CloseAll(conversationID string) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.closeConversation(conversationID)
}

func (h *Hub) closeConversation(conversationID string) {
	frame, _ := Encode(EventClosed, map[string]string{"conversationId": conversationID})

	for _, sub := range h.snapshot(conversationID) {
		_ = sub.sink.Send(frame)
		if h.remove(sub) {
			sub.sink.Close()
		}
	}
}

// Shutdown closes every conversation. Later subscriptions are refused.
func (h *Hub) Shutdown() {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	h.closed = true
	ids := make([]string, 0, len(h.conversations))
	for id := range h.conversations {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.closeConversation(id)
	}
	h.logger.Debug("hub shut down", "conversations", len(ids))
}

// Subscribers returns the number of subscribers of a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

// Conversations returns the number of conversations with subscribers.
func (h *Hub) Conversations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations)
}

// Total returns the number of subscribers across all conversations.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.conversations {
		n += len(subs)
	}
	return n
}
