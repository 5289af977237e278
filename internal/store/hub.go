package store

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// hub fans change events out to subscribers. Delivery is best-effort: a
// subscriber whose buffer is full misses intermediate events, which is safe
// because subscribers re-read current state on every wakeup.
type hub struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	collection string // empty matches every collection
	ch         chan Event
	closed     bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.collection != "" && sub.collection != ev.Collection {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is behind; it will re-read state on the
			// events still queued in its buffer.
		}
	}
}

// subscribe registers a subscriber for one collection. The returned cancel
// function is idempotent; the channel is closed on cancel or when ctx ends.
func (h *hub) subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	sub := &subscriber{
		collection: collection,
		ch:         make(chan Event, subscriberBuffer),
	}

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(h.subs, id)
		close(sub.ch)
	}

	stop := context.AfterFunc(ctx, cancel)

	return sub.ch, func() {
		stop()
		cancel()
	}
}

// closeAll tears down every subscriber, used on store shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(h.subs, id)
	}
}
