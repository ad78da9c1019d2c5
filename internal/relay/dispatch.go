// ABOUTME: Delivers normalized messages and handoff transitions to subscribers
// ABOUTME: Shared by webhook ingestion and the stream polling loops

package relay

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/2389/chatwoot-relay/internal/hub"
	"github.com/2389/chatwoot-relay/internal/metrics"
)

// Publisher sends one event to the subscribers of a conversation.
type Publisher interface {
	Publish(conversationID, event string, payload any) int
}

// Recorder persists delivered events. Record must not block.
type Recorder interface {
	Record(ev ChatEvent)
}

// Dispatcher runs raw messages and labels through the normalizer and label
// tracker and publishes whatever should reach the browser. Pending, Recorder
// and Metrics are optional.
type Dispatcher struct {
	Publisher  Publisher
	Normalizer *Normalizer
	Labels     *LabelTracker
	Pending    *PendingTracker
	Recorder   Recorder
	Metrics    *metrics.Metrics
}

// DeliverMessages publishes the fresh agent messages among raws in timestamp order
// and returns how many were published.
func (d *Dispatcher) DeliverMessages(conversationID string, raws []json.RawMessage, synthesizeID bool) int {
	nc := Context{ConversationID: conversationID, SynthesizeID: synthesizeID}
	if d.Pending != nil {
		nc.PendingSince = d.Pending.Get(conversationID)
	}

	fresh := make([]*ChatEvent, 0, len(raws))
	for _, raw := range raws {
		if ev, ok := d.Normalizer.Normalize(raw, nc); ok {
			fresh = append(fresh, ev)
		}
	}
	if len(fresh) == 0 {
		return 0
	}

	slices.SortStableFunc(fresh, func(a, b *ChatEvent) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})

	for _, ev := range fresh {
		d.Publisher.Publish(conversationID, hub.EventMessage, MessagePayload{
			ConversationID: conversationID,
			Message:        ev,
		})
		d.Metrics.EventPublished(hub.EventMessage)
		if d.Recorder != nil {
			d.Recorder.Record(*ev)
		}
	}
	if d.Pending != nil {
		d.Pending.Clear(conversationID)
	}
	return len(fresh)
}

// DeliverLabels publishes a handoff event when the human state of the conversation
// changes. It reports whether an event was published.
func (d *Dispatcher) DeliverLabels(conversationID string, labels []string) bool {
	human, emit := d.Labels.Observe(conversationID, labels)
	if !emit {
		return false
	}
	if labels == nil {
		labels = []string{}
	}
	d.Publisher.Publish(conversationID, hub.EventHandoff, HandoffPayload{
		ConversationID: conversationID,
		Human:          human,
		Labels:         labels,
	})
	d.Metrics.EventPublished(hub.EventHandoff)
	return true
}
