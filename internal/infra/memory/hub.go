package memory

import (
	"context"
	"sync"

	"crowdplay-room-service/internal/domain"
)

// Hub is the in-process fan-out: an app.StatePublisher whose subscribers
// receive version-tagged events per room. Subscribers compare version
// counters to drop stale deliveries, so the hub may replace a queued event
// with a newer one for slow consumers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.StateEvent]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.StateEvent]struct{})}
}

func (h *Hub) Publish(_ context.Context, event domain.StateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.RoomID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop its oldest queued event and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Subscribe returns a channel of events for one room. The caller must invoke
// the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(roomID string) (<-chan domain.StateEvent, func()) {
	ch := make(chan domain.StateEvent, 16)

	h.mu.Lock()
	if h.subs[roomID] == nil {
		h.subs[roomID] = make(map[chan domain.StateEvent]struct{})
	}
	h.subs[roomID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[roomID]; ok {
			if _, subscribed := set[ch]; subscribed {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, roomID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
