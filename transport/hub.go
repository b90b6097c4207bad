package transport

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is a connected request/reply WebSocket peer. Unlike the
// teacher's broadcast-oriented Client, replies are written directly by
// the handler goroutine that decoded the matching request rather than
// pumped from a shared send channel: this is a synchronous
// request/reply protocol, not a fan-out broadcast.
type client struct {
	hub  *hub
	conn *websocket.Conn
	mu   sync.Mutex // guards writes: gorilla connections are not write-concurrent-safe
}

func (c *client) writeBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// hub tracks connected clients purely for diagnostics (the monitor's
// client-count display); it holds no per-client queues because replies
// are synchronous.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ClientCount returns the number of currently connected clients.
func (h *hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
