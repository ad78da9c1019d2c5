// ABOUTME: Buffered channel sink connecting the hub to one SSE response
// ABOUTME: Send waits for the writer to make room and gives up only on a stalled client

package stream

import (
	"errors"
	"sync"
	"time"
)

var (
	errSinkStalled = errors.New("stream writer stalled")
	errSinkClosed  = errors.New("stream closed")
)

const (
	// sinkBuffer is the number of frames queued per stream.
	sinkBuffer = 64
	// sinkStallTimeout is how long a sender waits for room before the
	// client is treated as gone.
	sinkStallTimeout = 5 * time.Second
)

// chanSink queues frames for the request goroutine, which alone writes to
// the ResponseWriter. A full queue applies backpressure to the sender.
type chanSink struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once
	stall  time.Duration
}

func newChanSink(size int, stall time.Duration) *chanSink {
	return &chanSink{
		frames: make(chan []byte, size),
		done:   make(chan struct{}),
		stall:  stall,
	}
}

func (s *chanSink) Send(frame []byte) error {
	select {
	case <-s.done:
		return errSinkClosed
	default:
	}

	select {
	case s.frames <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(s.stall)
	defer timer.Stop()
	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return errSinkClosed
	case <-timer.C:
		return errSinkStalled
	}
}

// Close marks the sink closed. The frames channel stays open so late
// senders fail instead of panicking.
func (s *chanSink) Close() {
	s.once.Do(func() { close(s.done) })
}

// sinkPublisher adapts a single sink to relay.Publisher for standalone
// streams that do not go through the hub.
type sinkPublisher struct {
	sink   *chanSink
	encode func(event string, payload any) ([]byte, error)
}

func (p *sinkPublisher) Publish(_, event string, payload any) int {
	frame, err := p.encode(event, payload)
	if err != nil {
		return 0
	}
	if err := p.sink.Send(frame); err != nil {
		p.sink.Close()
		return 0
	}
	return 1
}
