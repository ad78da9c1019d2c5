// ABOUTME: Write-behind transcript of events relayed to browsers
// ABOUTME: A single worker batches ChatEvents into the relay event store

package transcript

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatwoot-relay/internal/metrics"
	"github.com/2389/chatwoot-relay/internal/relay"
	"github.com/2389/chatwoot-relay/internal/store"
)

const (
	defaultQueueSize     = 256
	defaultBatchSize     = 32
	defaultFlushInterval = 500 * time.Millisecond
	writeTimeout         = 5 * time.Second
)

// Options configures a Recorder. Zero values take defaults.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Recorder queues delivered events and persists them in the background.
// It implements relay.Recorder.
type Recorder struct {
	store         store.RelayEventStore
	queue         chan relay.ChatEvent
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a recorder writing to s.
func New(s store.RelayEventStore, opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Recorder{
		store:         s,
		queue:         make(chan relay.ChatEvent, opts.QueueSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With("component", "transcript"),
		done:          make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues ev. When the queue is full or the recorder is closed the
// event is dropped and counted.
func (r *Recorder) Record(ev relay.ChatEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.metrics.TranscriptDropped()
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.metrics.TranscriptDropped()
		r.logger.Warn("transcript queue full, dropping event", "id", ev.ID)
	}
}

// Close stops accepting events, writes what is queued and waits for the
// worker to exit.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*store.RelayEvent, 0, r.batchSize)
	for {
		select {
		case ev, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, toRelayEvent(ev))
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []*store.RelayEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.SaveRelayEvents(ctx, batch); err != nil {
		r.logger.Error("failed to save relay events", "count", len(batch), "error", err)
	}
}

func toRelayEvent(ev relay.ChatEvent) *store.RelayEvent {
	out := &store.RelayEvent{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		RemoteID:       ev.RemoteID,
		Direction:      string(ev.Direction),
		Content:        ev.Content,
		CreatedAt:      ev.CreatedAt,
		RecordedAt:     time.Now(),
	}
	if len(ev.Attachments) > 0 {
		if data, err := json.Marshal(ev.Attachments); err == nil {
			out.AttachmentsJSON = string(data)
		}
	}
	return out
}
