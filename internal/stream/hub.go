// Package stream fans processing events out to live subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses events.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/dvloznov/invoice-verifier/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 64

// Hub is the in-process publish/subscribe point.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
	log     zerolog.Logger
}

// NewHub creates a hub with no subscribers.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{subs: make(map[uint64]*Subscription), log: log}
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id      uint64
	ch      chan domain.ProcessingEvent
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// Subscribe registers a subscriber with the given buffer size.
// On a closed hub the returned subscription's channel is already closed.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{ch: make(chan domain.ProcessingEvent, buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	return s
}

// Events is closed when the subscription or the hub is closed.
func (s *Subscription) Events() <-chan domain.ProcessingEvent {
	return s.ch
}

// Dropped counts events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	s.hub.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Publish offers the event to every subscriber without waiting.
func (h *Hub) Publish(e domain.ProcessingEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			if h.dropped.Add(1)%100 == 1 {
				h.log.Warn().
					Uint64("subscriber", s.id).
					Uint64("dropped_total", h.dropped.Load()).
					Msg("Slow activity subscriber, dropping events")
			}
		}
	}
}

// Dropped counts events missed across all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription; later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.once.Do(func() { close(s.ch) })
		delete(h.subs, id)
	}
}
