// ABOUTME: Tracks whether a human operator owns each conversation
// ABOUTME: Reports handoff transitions derived from conversation labels

package relay

import (
	"strings"
	"sync"

	"github.com/2389/chatwoot-relay/internal/cache"
)

// HumanLabel marks a conversation taken over by a human operator.
const HumanLabel = "humano"

// HasHumanLabel reports whether any label equals HumanLabel, ignoring case.
func HasHumanLabel(labels []string) bool {
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(l), HumanLabel) {
			return true
		}
	}
	return false
}

// LabelTracker remembers the last known handoff state per conversation.
// A conversation not present is in the unknown state.
type LabelTracker struct {
	mu    sync.Mutex
	state *cache.Cache[bool]
}

// NewLabelTracker creates a tracker keeping at most maxEntries conversations.
// State never expires by age; only the least recently observed conversation
// is dropped once the bound is reached.
func NewLabelTracker(maxEntries int) *LabelTracker {
	return &LabelTracker{state: cache.New[bool](0, maxEntries)}
}

// Observe records the labels seen for a conversation. emit is true when a
// handoff event should be sent: on the first observation only if a human is
// present, afterwards whenever the state changes.
func (t *LabelTracker) Observe(conversationID string, labels []string) (human bool, emit bool) {
	human = HasHumanLabel(labels)

	t.mu.Lock()
	defer t.mu.Unlock()

	last, known := t.state.Get(conversationID)
	t.state.Set(conversationID, human)
	if !known {
		return human, human
	}
	return human, last != human
}

// Forget drops the state of a conversation.
func (t *LabelTracker) Forget(conversationID string) {
	t.state.Delete(conversationID)
}

// Close stops the background sweep of the underlying cache.
func (t *LabelTracker) Close() {
	t.state.Close()
}
