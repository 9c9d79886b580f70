package ws

import (
	"fmt"
	"sync"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/protocol"
)

// Hub maps connection ids to live connections. It is the Router's channel.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.id] = c
}

// Remove drops c only if it is still the connection registered under its id.
func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.conns[c.id]; ok && cur == c {
		delete(h.conns, c.id)
	}
}

// Send queues msg for connID without blocking.
func (h *Hub) Send(connID string, msg protocol.Message) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConnNotFound, connID)
	}
	return c.Send(msg)
}

// Broadcast queues msg for every connection. A connection whose queue is
// full is closed by its own Send and does not count.
func (h *Hub) Broadcast(msg protocol.Message) int {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range conns {
		if err := c.Send(msg); err == nil {
			n++
		}
	}
	return n
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Shutdown closes every connection. Read loops then run their usual
// disconnect path.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.CloseWithReason(closeGoingAway, "server shutting down")
	}
}
