// ABOUTME: Tests for webhook ingestion into the hub
// ABOUTME: Includes the signed message_created scenario end to end through the hub

package webhook

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatwoot-relay/internal/cache"
	"github.com/2389/chatwoot-relay/internal/hub"
	"github.com/2389/chatwoot-relay/internal/relay"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []string
}

func (s *recordingSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(frame))
	return nil
}

func (s *recordingSink) Close() {}

func (s *recordingSink) events(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	prefix := "event: " + name + "\ndata: "
	for _, f := range s.frames {
		if strings.HasPrefix(f, prefix) {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(f, prefix), "\n\n"))
		}
	}
	return out
}

func newTestIngester(t *testing.T) (*Ingester, *hub.Hub) {
	t.Helper()
	h := hub.New(hub.Options{PingInterval: time.Hour})
	seen := cache.New[struct{}](time.Hour, 100)
	received := cache.New[struct{}](time.Hour, 100)
	labels := relay.NewLabelTracker(100)
	t.Cleanup(func() {
		h.Shutdown()
		seen.Close()
		received.Close()
		labels.Close()
	})

	d := &relay.Dispatcher{
		Publisher:  h,
		Normalizer: relay.NewNormalizer(seen),
		Labels:     labels,
	}
	return NewIngester(d, received, nil, nil), h
}

func TestIngest_MessageCreatedReachesSubscriber(t *testing.T) {
	ing, h := newTestIngester(t)
	sink := &recordingSink{}
	h.Subscribe("42", sink)

	body := []byte(`{"event":"message_created","message":{"conversation_id":"42","message_type":"outgoing","content":"Hi"}}`)
	require.NoError(t, NewVerifier("secret").Verify(body, Sign([]byte("secret"), body)))

	res := ing.Ingest(body)
	assert.Equal(t, 1, res.Messages)
	assert.True(t, ing.Received("42"))

	msgs := sink.events(hub.EventMessage)
	require.Len(t, msgs, 1)

	var payload relay.MessagePayload
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &payload))
	assert.Equal(t, "42", payload.ConversationID)
	assert.Equal(t, "Hi", payload.Message.Content)
	assert.True(t, strings.HasPrefix(payload.Message.ID, "42-"))
	assert.Equal(t, "42-"+payload.Message.RemoteID, payload.Message.ID)
}

func TestIngest_DuplicateDeliveryPublishedOnce(t *testing.T) {
	ing, h := newTestIngester(t)
	sink := &recordingSink{}
	h.Subscribe("42", sink)

	body := []byte(`{"event":"message_created","message":{"id":5,"conversation_id":42,"message_type":"outgoing","content":"Hi"}}`)
	ing.Ingest(body)
	ing.Ingest(body)

	assert.Len(t, sink.events(hub.EventMessage), 1)
}

func TestIngest_IgnoresIncomingAndPrivate(t *testing.T) {
	ing, h := newTestIngester(t)
	sink := &recordingSink{}
	h.Subscribe("42", sink)

	ing.Ingest([]byte(`{"event":"message_created","message":{"id":1,"conversation_id":42,"message_type":"incoming","content":"me"}}`))
	ing.Ingest([]byte(`{"event":"message_created","message":{"id":2,"conversation_id":42,"message_type":"outgoing","private":true}}`))

	assert.Empty(t, sink.events(hub.EventMessage))
}

func TestIngest_HandoffTransitions(t *testing.T) {
	ing, h := newTestIngester(t)
	sink := &recordingSink{}
	h.Subscribe("42", sink)

	for _, labels := range []string{`[]`, `["Humano"]`, `["humano"]`, `[]`} {
		ing.Ingest([]byte(`{"event":"conversation_updated","id":42,"labels":` + labels + `}`))
	}

	handoffs := sink.events(hub.EventHandoff)
	require.Len(t, handoffs, 2)
	assert.JSONEq(t, `{"conversationId":"42","human":true,"labels":["Humano"]}`, handoffs[0])
	assert.JSONEq(t, `{"conversationId":"42","human":false,"labels":[]}`, handoffs[1])
}

func TestIngest_EmptyAndInvalidBodies(t *testing.T) {
	ing, _ := newTestIngester(t)

	assert.Equal(t, Result{}, ing.Ingest(nil))
	assert.Equal(t, Result{}, ing.Ingest([]byte("  ")))
	assert.Equal(t, Result{}, ing.Ingest([]byte("{not json")))

	res := ing.Ingest([]byte(`{"event":"contact_created"}`))
	assert.Equal(t, "contact_created", res.Event)
	assert.Empty(t, res.ConversationID)
}
