// Package hub is an in-memory publish/subscribe fan-out of serialized events.
//
// A Hub knows nothing about transports. Each subscriber owns a bounded queue;
// a subscriber that lets its queue fill up is dropped rather than buffered
// without limit, and its Subscription reports Lagged. The registry lock is
// only held to add, remove or list subscribers, never while delivering.
package hub

import (
	"sync"

	"go.uber.org/atomic"
)

// DefaultBuffer is the per-subscriber queue capacity used when New is given
// a non-positive size.
const DefaultBuffer = 64

// Subscription is one receiver registered with a Hub.
type Subscription struct {
	id uint64
	ch chan []byte

	mu     sync.Mutex
	closed bool
	lagged bool
}

// C returns the event queue. It is closed when the subscription ends, either
// through Unsubscribe, Hub.Close, or because the subscriber fell behind.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Lagged reports whether the hub dropped this subscriber for not keeping up.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

type deliveryResult int

const (
	delivered deliveryResult = iota
	queueFull
	alreadyClosed
)

func (s *Subscription) deliver(msg []byte) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return alreadyClosed
	}
	select {
	case s.ch <- msg:
		return delivered
	default:
		return queueFull
	}
}

func (s *Subscription) close(lagged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.lagged = lagged
	close(s.ch)
}

// Hub fans published messages out to every current subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool

	dropped atomic.Uint64
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new receiver. It observes only messages published
// after Subscribe returns; there is no replay. After Close, the returned
// subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan []byte, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close(false)
		return s
	}
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	h.mu.Unlock()

	return s
}

// Unsubscribe deregisters s and closes its queue. Safe to call repeatedly.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
	s.close(false)
}

// Publish offers msg to every current subscriber without blocking and
// returns how many accepted it. Subscribers with a full queue are dropped.
func (h *Hub) Publish(msg []byte) int {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range subs {
		switch s.deliver(msg) {
		case delivered:
			n++
		case queueFull:
			h.drop(s)
		}
	}
	return n
}

func (h *Hub) drop(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.id]
	delete(h.subs, s.id)
	h.mu.Unlock()
	if ok {
		h.dropped.Inc()
	}
	s.close(true)
}

// Close ends every subscription and makes later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.close(false)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many subscribers have been dropped for lagging.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
