// Package events delivers discussion stream events to the observers attached
// to a discussion.
//
// Every attached sink receives every event published for its discussion.
// Publishing never blocks: a sink that cannot accept an event is detached
// and closed, and an event published while nobody is attached is dropped.
package events

import (
	"errors"
	"log/slog"
	"sync"

	"discussion-agent/internal/domain"
)

// ErrSinkFull is returned by a sink whose buffer cannot take another event.
var ErrSinkFull = errors.New("events: sink buffer full")

// ErrSinkClosed is returned by a sink that has already been closed.
var ErrSinkClosed = errors.New("events: sink closed")

// Sink is a delivery target for one observer. Deliver must not block.
type Sink interface {
	Deliver(event domain.StreamEvent) error
	Close()
}

type Registry struct {
	mu     sync.RWMutex
	sinks  map[string][]Sink
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sinks:  make(map[string][]Sink),
		logger: logger,
	}
}

// Attach adds sink to the observers of discussionID.
func (r *Registry) Attach(discussionID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[discussionID] = append(r.sinks[discussionID], sink)
}

// Detach removes sink from discussionID. It reports whether the sink was attached.
func (r *Registry) Detach(discussionID string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(discussionID, sink)
}

// Subscribers returns the number of sinks attached to discussionID.
func (r *Registry) Subscribers(discussionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks[discussionID])
}

// Publish delivers event to every sink attached to discussionID.
func (r *Registry) Publish(discussionID string, event domain.StreamEvent) {
	r.mu.RLock()
	current := r.sinks[discussionID]
	sinks := make([]Sink, len(current))
	copy(sinks, current)
	r.mu.RUnlock()

	var failed []Sink
	for _, sink := range sinks {
		if err := sink.Deliver(event); err != nil {
			failed = append(failed, sink)
			r.logger.Warn("dropping stream subscriber",
				"discussion_id", discussionID,
				"event_type", event.Type,
				"err", err,
			)
		}
	}
	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	for _, sink := range failed {
		r.detachLocked(discussionID, sink)
	}
	r.mu.Unlock()
	for _, sink := range failed {
		sink.Close()
	}
}

func (r *Registry) detachLocked(discussionID string, sink Sink) bool {
	current := r.sinks[discussionID]
	for i, s := range current {
		if s != sink {
			continue
		}
		next := make([]Sink, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(r.sinks, discussionID)
		} else {
			r.sinks[discussionID] = next
		}
		return true
	}
	return false
}
