// Package events streams forwarded-message events to websocket
// subscribers on the admin surface.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

// Event describes one forwarded message. Bodies are never published.
type Event struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlationId"`
	Module        string    `json:"module"`
	InterfaceRole string    `json:"interfaceRole"`
	Method        string    `json:"method"`
	Sender        ocpi.Role `json:"sender"`
	Receiver      ocpi.Role `json:"receiver"`
	Recipient     string    `json:"recipient"`
	Status        int       `json:"status"`
	At            time.Time `json:"at"`
}

// Hub maintains the set of active subscribers and broadcasts events.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		log:        log.With(zap.String("component", "events")),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("subscriber connected", zap.String("filter", c.filter.Key()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			msg, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("encode event", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(ev) {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// Slow subscriber, drop the event for it.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues ev for broadcast. It never blocks; events are dropped
// when the queue is full.
func (h *Hub) Publish(ev Event) bool {
	select {
	case h.broadcast <- ev:
		return true
	default:
		return false
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
