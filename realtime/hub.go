// Package realtime fans engine bus events out to live subscribers, feeding
// the WebSocket adapter and any in-process listener that wants unlock and
// counter-change notifications as they commit.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"achievekit/core"
)

// Hub is a simple pub/sub for broadcasting bus events to channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

type subscription struct {
	ch   chan core.BusEvent
	user core.UserID // empty means all users
}

func NewHub() *Hub { return &Hub{subs: map[int]subscription{}} }

// Subscribe registers a listener for every broadcast event.
func (h *Hub) Subscribe(buffer int) (int, <-chan core.BusEvent) {
	return h.subscribe(buffer, "")
}

// SubscribeUser registers a listener that only receives events for one user.
func (h *Hub) SubscribeUser(buffer int, user core.UserID) (int, <-chan core.BusEvent) {
	return h.subscribe(buffer, user)
}

func (h *Hub) subscribe(buffer int, user core.UserID) (int, <-chan core.BusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.BusEvent, buffer)
	h.subs[id] = subscription{ch: ch, user: user}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Broadcast delivers ev to every matching subscriber. Slow subscribers with
// full buffers are skipped, not blocked on.
func (h *Hub) Broadcast(_ context.Context, ev core.BusEvent) {
	h.mu.RLock()
	// copy to avoid holding lock during send
	receivers := make([]chan core.BusEvent, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.user != "" && sub.user != ev.UserID {
			continue
		}
		receivers = append(receivers, sub.ch)
	}
	h.mu.RUnlock()
	for _, ch := range receivers {
		select {
		case ch <- ev:
		default: /* drop if full */
		}
	}
}

// MarshalJSON is a helper to convert bus events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.BusEvent) []byte {
	b, _ := json.Marshal(ev)
	return b
}
