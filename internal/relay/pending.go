// ABOUTME: Remembers when the local user last sent a message per conversation
// ABOUTME: Lets the normalizer drop replies that predate the pending send

package relay

import (
	"time"

	"github.com/2389/chatwoot-relay/internal/cache"
)

// PendingTracker holds the send instant of messages still awaiting a reply.
type PendingTracker struct {
	since *cache.Cache[time.Time]
	now   func() time.Time
}

// NewPendingTracker creates a bounded tracker.
func NewPendingTracker(ttl time.Duration, maxEntries int) *PendingTracker {
	return &PendingTracker{since: cache.New[time.Time](ttl, maxEntries), now: time.Now}
}

// Mark records that a message was just sent into the conversation.
func (p *PendingTracker) Mark(conversationID string) {
	p.since.Set(conversationID, p.now())
}

// Get returns the pending instant, or the zero time when nothing is pending.
func (p *PendingTracker) Get(conversationID string) time.Time {
	t, _ := p.since.Get(conversationID)
	return t
}

// Clear drops the pending instant after a reply was delivered.
func (p *PendingTracker) Clear(conversationID string) {
	p.since.Delete(conversationID)
}

// Close stops the background sweep of the underlying cache.
func (p *PendingTracker) Close() {
	p.since.Close()
}
