// Package stream fans audit log entries out to live subscribers (SSE
// clients watching an envelope's activity feed).
package stream

import (
	"context"
	"sync"

	"signato.org/internal/auditlog"
)

type subscriber struct {
	envelopeID string // empty subscribes to everything
	ch         chan auditlog.Entry
}

// Stream fan-outs appended audit entries to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for one envelope's entries, or for all
// entries when envelopeID is empty. The channel is closed when the provided
// context ends.
func (s *Stream) Subscribe(ctx context.Context, envelopeID string) <-chan auditlog.Entry {
	ch := make(chan auditlog.Entry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{envelopeID: envelopeID, ch: ch}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the entry to all matching subscribers. It satisfies the
// workflow service's publisher seam.
func (s *Stream) Publish(ctx context.Context, entry auditlog.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.envelopeID != "" && sub.envelopeID != entry.EnvelopeID {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
