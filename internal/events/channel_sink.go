package events

import (
	"sync"

	"discussion-agent/internal/domain"
)

const DefaultSinkBuffer = 256

// ChannelSink buffers events for a reader goroutine such as an HTTP stream.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan domain.StreamEvent
	closed bool
}

var _ Sink = (*ChannelSink)(nil)

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &ChannelSink{ch: make(chan domain.StreamEvent, buffer)}
}

// Events is closed once the sink is closed.
func (s *ChannelSink) Events() <-chan domain.StreamEvent {
	return s.ch
}

func (s *ChannelSink) Deliver(event domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- event:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
