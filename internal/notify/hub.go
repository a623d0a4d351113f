package notify

import (
	"context"
	"sync"

	"taxidispatch/internal/events"
	"taxidispatch/internal/observability"
)

const defaultBuffer = 64

// Subscription is one live listener on a user id or topic.
type Subscription struct {
	key   string
	ch    chan events.Event
	hub   *Hub
	ready chan struct{}
	once  sync.Once
}

func (s *Subscription) Key() string { return s.key }

// Events yields delivered events until the subscription is closed.
func (s *Subscription) Events() <-chan events.Event { return s.ch }

// Close unregisters the subscription; the events channel is closed after.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}

// Hub delivers events to subscribers keyed by user id or topic. Delivery is
// best-effort: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}
	buffer     int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
		buffer:     buffer,
	}
}

// Run owns registration until ctx ends, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.mu.Lock()
			if h.subs[sub.key] == nil {
				h.subs[sub.key] = make(map[*Subscription]struct{})
			}
			h.subs[sub.key][sub] = struct{}{}
			h.mu.Unlock()
			observability.Subscribers.Inc()
			close(sub.ready)
		case sub := <-h.unregister:
			h.mu.Lock()
			if subs, ok := h.subs[sub.key]; ok {
				if _, live := subs[sub]; live {
					delete(subs, sub)
					close(sub.ch)
					observability.Subscribers.Dec()
				}
				if len(subs) == 0 {
					delete(h.subs, sub.key)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for key, subs := range h.subs {
		for sub := range subs {
			close(sub.ch)
			observability.Subscribers.Dec()
		}
		delete(h.subs, key)
	}
}

// Subscribe registers a listener on key. It returns once the hub has
// recorded it, so events published afterwards are delivered.
func (h *Hub) Subscribe(key string) *Subscription {
	sub := &Subscription{
		key:   key,
		ch:    make(chan events.Event, h.buffer),
		hub:   h,
		ready: make(chan struct{}),
	}
	select {
	case h.register <- sub:
		<-sub.ready
	case <-h.done:
		close(sub.ch)
	}
	return sub
}

// Publish never blocks.
func (h *Hub) Publish(key string, evt events.Event) {
	if key == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- evt:
		default:
			observability.NotificationsDropped.Inc()
		}
	}
}

// Subscribers reports how many listeners key has.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
