// ABOUTME: Message and label poll loops backing standalone and bootstrap streams
// ABOUTME: Each loop polls immediately, then waits its interval between requests

package stream

import (
	"context"
	"time"

	"github.com/2389/chatwoot-relay/internal/cache"
	"github.com/2389/chatwoot-relay/internal/config"
	"github.com/2389/chatwoot-relay/internal/relay"
)

func newSeenSet(cfg config.CacheConfig) *cache.Cache[struct{}] {
	return cache.New[struct{}](cfg.TTL, cfg.MaxEntries)
}

// pollMessages fetches the conversation's messages and delivers fresh agent
// replies until ctx ends or stop reports true.
func (s *session) pollMessages(ctx context.Context, d *relay.Dispatcher, stop func() bool) error {
	c := s.controller
	return every(ctx, c.cfg.MessagePollInterval, stop, func() {
		raws, err := c.deps.Source.FetchMessages(ctx, s.conversationID)
		if err != nil {
			if ctx.Err() == nil {
				c.deps.Metrics.Polled("messages", "error")
				c.logger.Warn("polling messages failed", "conversation_id", s.conversationID, "error", err)
			}
			return
		}
		c.deps.Metrics.Polled("messages", "ok")
		d.DeliverMessages(s.conversationID, raws, false)
	})
}

// pollLabels fetches the conversation labels and delivers handoff transitions.
func (s *session) pollLabels(ctx context.Context, d *relay.Dispatcher, stop func() bool) error {
	c := s.controller
	return every(ctx, c.cfg.LabelPollInterval, stop, func() {
		meta, err := c.deps.Source.FetchConversationMeta(ctx, s.conversationID)
		if err != nil {
			if ctx.Err() == nil {
				c.deps.Metrics.Polled("labels", "error")
				c.logger.Warn("polling labels failed", "conversation_id", s.conversationID, "error", err)
			}
			return
		}
		c.deps.Metrics.Polled("labels", "ok")
		d.DeliverLabels(s.conversationID, meta.Labels)
	})
}

// every runs fn now and then after each interval. A nil stop never stops.
func every(ctx context.Context, interval time.Duration, stop func() bool, fn func()) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if stop != nil && stop() {
			return nil
		}
		fn()
		timer.Reset(interval)
	}
}
