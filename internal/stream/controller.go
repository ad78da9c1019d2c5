// ABOUTME: SSE endpoint relaying conversation events to one browser
// ABOUTME: Manages the lease, drain, heartbeat and polling lifecycle of a stream

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/chatwoot-relay/internal/auth"
	"github.com/2389/chatwoot-relay/internal/chatwoot"
	"github.com/2389/chatwoot-relay/internal/config"
	"github.com/2389/chatwoot-relay/internal/hub"
	"github.com/2389/chatwoot-relay/internal/metrics"
	"github.com/2389/chatwoot-relay/internal/relay"
)

// Close reasons reported to metrics and logs.
const (
	reasonClient  = "client"
	reasonLease   = "lease"
	reasonClosed  = "closed"
	reasonAborted = "aborted"
)

var errLeaseExpired = errors.New("stream lease expired")

// Source is the slice of the conversation API the poll loops use.
type Source interface {
	FetchMessages(ctx context.Context, conversationID string) ([]json.RawMessage, error)
	FetchConversationMeta(ctx context.Context, conversationID string) (*chatwoot.ConversationMeta, error)
	Missing() []string
}

// WebhookLog reports whether a webhook has been received for a conversation.
type WebhookLog interface {
	Received(conversationID string) bool
}

// Deps are the collaborators of a Controller. Dispatcher is the hub-wide
// dispatcher used for bootstrap polling. Pending, Tokens, Webhooks, Recorder
// and Metrics are optional.
type Deps struct {
	Hub        *hub.Hub
	Source     Source
	Dispatcher *relay.Dispatcher
	Pending    *relay.PendingTracker
	Webhooks   WebhookLog
	Tokens     auth.StreamTokenVerifier
	Recorder   relay.Recorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Controller serves GET /api/chatwoot/stream.
type Controller struct {
	cfg      config.StreamConfig
	cacheCfg config.CacheConfig
	deps     Deps
	logger   *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a stream controller.
func New(cfg config.StreamConfig, cacheCfg config.CacheConfig, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		cacheCfg: cacheCfg,
		deps:     deps,
		logger:   logger.With("component", "stream"),
		closing:  make(chan struct{}),
	}
}

// Close ends every open stream with a closed event, whatever its mode, and
// refuses new ones. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *Controller) closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.closed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conversationID := strings.TrimSpace(r.URL.Query().Get("conversationId"))
	if conversationID == "" {
		http.Error(w, "conversationId is required", http.StatusBadRequest)
		return
	}

	if c.deps.Tokens != nil {
		if err := c.deps.Tokens.Verify(auth.TokenFromRequest(r), conversationID); err != nil {
			c.logger.Debug("stream token rejected", "conversation_id", conversationID, "error", err)
			http.Error(w, "invalid stream token", http.StatusUnauthorized)
			return
		}
	}

	if c.cfg.Mode == config.StreamModePoll {
		if missing := c.deps.Source.Missing(); len(missing) > 0 {
			http.Error(w, "missing environment variables: "+strings.Join(missing, ", "), http.StatusInternalServerError)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &session{
		controller:     c,
		conversationID: conversationID,
		sink:           newChanSink(sinkBuffer, sinkStallTimeout),
		w:              w,
		flusher:        flusher,
	}
	reason := s.run(r.Context())

	c.deps.Metrics.StreamClosed(reason)
	c.logger.Debug("stream closed", "conversation_id", conversationID, "reason", reason)
}

// session is one open stream. Only the request goroutine touches w.
type session struct {
	controller     *Controller
	conversationID string
	sink           *chanSink
	w              http.ResponseWriter
	flusher        http.Flusher
}

func (s *session) run(parent context.Context) string {
	c := s.controller
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	var sub *hub.Subscriber
	switch c.cfg.Mode {
	case config.StreamModePoll:
		c.deps.Metrics.StreamOpened(config.StreamModePoll)
		d, closeState := s.standaloneDispatcher()
		defer closeState()

		s.publishLocal(hub.EventConnected, map[string]string{"conversationId": s.conversationID})
		g.Go(func() error { return s.pollMessages(gctx, d, nil) })
		g.Go(func() error { return s.pollLabels(gctx, d, nil) })
		g.Go(func() error { return s.heartbeat(gctx) })
	default:
		c.deps.Metrics.StreamOpened(config.StreamModeHub)
		sub = c.deps.Hub.Subscribe(s.conversationID, s.sink)
		if s.bootstrapping() {
			stop := func() bool { return c.deps.Webhooks != nil && c.deps.Webhooks.Received(s.conversationID) }
			g.Go(func() error { return s.pollMessages(gctx, c.deps.Dispatcher, stop) })
			g.Go(func() error { return s.pollLabels(gctx, c.deps.Dispatcher, stop) })
		}
	}

	g.Go(func() error { return s.lease(gctx) })

	reason := s.pump(gctx)

	// Teardown: detach from the hub, then close the sink so loops blocked
	// on a full queue return before the group is joined.
	c.deps.Hub.Unsubscribe(sub)
	cancel()
	s.sink.Close()
	err := g.Wait()

	switch {
	case errors.Is(err, errLeaseExpired):
		return reasonLease
	case reason != "":
		return reason
	case parent.Err() != nil:
		return reasonClient
	default:
		return reasonAborted
	}
}

func (s *session) bootstrapping() bool {
	c := s.controller
	if !c.cfg.BootstrapPoll || c.deps.Source == nil || c.deps.Dispatcher == nil {
		return false
	}
	if len(c.deps.Source.Missing()) > 0 {
		return false
	}
	return c.deps.Webhooks == nil || !c.deps.Webhooks.Received(s.conversationID)
}

// standaloneDispatcher builds a dispatcher private to this stream so every
// connection replays the conversation from its own seen set.
func (s *session) standaloneDispatcher() (*relay.Dispatcher, func()) {
	c := s.controller
	seen := newSeenSet(c.cacheCfg)
	labels := relay.NewLabelTracker(1)

	d := &relay.Dispatcher{
		Publisher:  &sinkPublisher{sink: s.sink, encode: hub.Encode},
		Normalizer: relay.NewNormalizer(seen),
		Labels:     labels,
		Pending:    c.deps.Pending,
		Recorder:   c.deps.Recorder,
		Metrics:    c.deps.Metrics,
	}
	return d, func() {
		seen.Close()
		labels.Close()
	}
}

// pump writes queued frames until the stream ends. It returns a non-empty
// reason when the stream ended for a cause other than context cancellation.
func (s *session) pump(ctx context.Context) string {
	for {
		select {
		case frame := <-s.sink.frames:
			if err := s.write(frame); err != nil {
				return reasonAborted
			}
		case <-s.sink.done:
			s.flushQueued()
			return reasonClosed
		case <-s.controller.closing:
			s.flushQueued()
			select {
			case <-s.sink.done:
				// The hub already sent closed.
			default:
				if frame, err := hub.Encode(hub.EventClosed, map[string]string{"conversationId": s.conversationID}); err == nil {
					_ = s.write(frame)
				}
			}
			return reasonClosed
		case <-ctx.Done():
			s.flushQueued()
			return ""
		}
	}
}

// flushQueued writes whatever is already buffered, such as a drain or
// closed frame queued just before shutdown.
func (s *session) flushQueued() {
	for {
		select {
		case frame := <-s.sink.frames:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *session) write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *session) publishLocal(event string, payload any) {
	frame, err := hub.Encode(event, payload)
	if err != nil {
		return
	}
	if err := s.sink.Send(frame); err != nil {
		s.sink.Close()
	}
}

// lease ends the stream after the lease: a drain event, a short grace period
// for the client to reconnect, then close.
func (s *session) lease(ctx context.Context) error {
	c := s.controller
	timer := time.NewTimer(c.cfg.Lease)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	s.publishLocal(hub.EventDrain, map[string]string{"conversationId": s.conversationID})

	grace := time.NewTimer(c.cfg.DrainGrace)
	defer grace.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-grace.C:
		return errLeaseExpired
	}
}

func (s *session) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.controller.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.publishLocal(hub.EventPing, map[string]int64{"ts": time.Now().UnixMilli()})
		}
	}
}
