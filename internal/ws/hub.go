// internal/ws/hub.go
//
// WebSocket fan-out for the continuous games. Each game gets one Hub; the
// game's broadcast callback feeds it and every connected client receives
// the same event stream.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/game"
)

const (
	writeTimeout = 5 * time.Second
	// sendBuffer is per-client; a client that cannot drain this many events
	// is dropped rather than allowed to stall the broadcaster.
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// Hub tracks the connected clients of a single game and fans events out to
// them.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *logrus.Entry
}

// NewHub builds an empty hub for the named game.
func NewHub(gameName string) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     logrus.WithFields(logrus.Fields{"component": "ws", "game": gameName}),
	}
}

// Broadcast marshals the event once and queues it to every client. Clients
// with a full send buffer are disconnected.
func (h *Hub) Broadcast(ev game.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("marshaling event failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			go c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// writeLoop drains the client's send queue onto the wire.
func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
