// Package stream pushes refresh results to connected clients. A Hub
// fans one update out to every subscriber; the WebSocket handler is the
// only transport today but the Hub does not know that.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Update is one event pushed to subscribers.
type Update struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub distributes updates to subscribers. Slow subscribers never block a
// broadcast: when a subscriber's buffer is full the update is dropped
// for that subscriber only.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]chan Update
	buffer  int
	dropped atomic.Int64
	log     zerolog.Logger
}

func NewHub(buffer int, log zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 8
	}
	return &Hub{
		subs:   make(map[string]chan Update),
		buffer: buffer,
		log:    log.With().Str("component", "stream").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed by Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan Update) {
	id := uuid.NewString()
	ch := make(chan Update, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	h.log.Debug().Str("client", id).Msg("subscriber joined")
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are a no-op, so double unsubscribes are safe.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
		h.log.Debug().Str("client", id).Msg("subscriber left")
	}
}

// Broadcast delivers the update to every subscriber that has room.
func (h *Hub) Broadcast(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- u:
		default:
			h.dropped.Add(1)
			h.log.Warn().Str("client", id).Str("event", u.Event).Msg("subscriber buffer full, update dropped")
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many updates were discarded for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
