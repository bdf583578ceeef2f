package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"salesbot-wa-be/internal/pkg/logger"
	"salesbot-wa-be/pkg/clock"

	"github.com/google/uuid"
)

const (
	DefaultBuffer   = 64
	DefaultMaxDrops = 256
)

// Hub fans events out to any number of subscribers. Publish never blocks:
// a subscriber whose buffer is full simply misses the event. A subscriber
// that keeps missing events (MaxDrops in a row) is evicted.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	buffer   int
	maxDrops int64
	clock    clock.Clock
	logger   logger.ILogger
	closed   bool
}

type Option func(*Hub)

func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithMaxDrops(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxDrops = int64(n)
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func NewHub(log logger.ILogger, opts ...Option) *Hub {
	h := &Hub{
		subs:     make(map[string]*Subscription),
		buffer:   DefaultBuffer,
		maxDrops: DefaultMaxDrops,
		clock:    clock.Real(),
		logger:   log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscription is one observer's view of the hub.
type Subscription struct {
	ID   string
	Name string

	hub     *Hub
	ch      chan Event
	drops   atomic.Int64
	missed  atomic.Int64
	closeMu sync.Once
}

// C delivers events. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Missed reports the total number of events this subscriber did not get.
func (s *Subscription) Missed() int64 { return s.missed.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s.ID) }

// Subscribe registers a new observer. name is only used for logging.
func (h *Hub) Subscribe(name string) *Subscription {
	sub := &Subscription{
		ID:   uuid.NewString(),
		Name: name,
		hub:  h,
		ch:   make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.ID] = sub
	h.logger.Info("Hub", "Subscriber registered", map[string]interface{}{"id": sub.ID, "name": name, "total": len(h.subs)})
	return sub
}

// Publish delivers ev to every subscriber that has room for it.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = h.clock.Now()
	}

	var evict []string
	h.mu.RLock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
			sub.drops.Store(0)
		default:
			sub.missed.Add(1)
			if sub.drops.Add(1) >= h.maxDrops {
				evict = append(evict, id)
			}
		}
	}
	h.mu.RUnlock()

	for _, id := range evict {
		h.logger.Warn("Hub", "Evicting subscriber that stopped reading", map[string]interface{}{"id": id})
		h.remove(id)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.closeMu.Do(func() { close(sub.ch) })
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.closeMu.Do(func() { close(sub.ch) })
	h.logger.Info("Hub", "Subscriber removed", map[string]interface{}{"id": id, "total": len(h.subs)})
}

// Now exposes the hub clock so publishers stamp events consistently.
func (h *Hub) Now() time.Time { return h.clock.Now() }
