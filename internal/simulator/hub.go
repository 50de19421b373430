package simulator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/models"
)

// Hub fans stream events out to the SSE subscribers of each room.
// Subscriber channels are buffered; a subscriber that stops draining loses
// events rather than blocking the publishers, which is acceptable because
// the polling fallback re-delivers anything the push path dropped.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[chan models.StreamEvent]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[chan models.StreamEvent]struct{}),
		log:   log,
	}
}

// Subscribe registers a stream for a room. The returned cancel function
// removes the subscription and must be called when the stream closes.
func (h *Hub) Subscribe(roomID string) (<-chan models.StreamEvent, func()) {
	ch := make(chan models.StreamEvent, 64)

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[chan models.StreamEvent]struct{})
	}
	h.rooms[roomID][ch] = struct{}{}
	count := len(h.rooms[roomID])
	h.mu.Unlock()

	h.log.Debug().Str("room", roomID).Int("subscribers", count).Msg("stream subscribed")

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.rooms[roomID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.rooms, roomID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of a room.
func (h *Hub) Publish(roomID string, ev models.StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.rooms[roomID] {
		select {
		case ch <- ev:
		default:
			h.log.Warn().Str("room", roomID).Str("kind", string(ev.Kind)).
				Msg("dropping event for slow stream subscriber")
		}
	}
}

// Shutdown tells every subscriber in every room that no further deltas are
// coming, used for graceful simulator exit.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ev := models.StreamEvent{Kind: models.EventShutdown}
	for _, subs := range h.rooms {
		for ch := range subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
