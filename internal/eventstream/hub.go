// Package eventstream broadcasts session state changes to websocket
// observers. It is the controller's notification stream: every transition is
// pushed as JSON, and observers that fall behind are dropped rather than
// allowed to block dispatch.
package eventstream

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"maisoku/internal/domain"
)

const (
	writeWait      = 5 * time.Second
	clientBuffer   = 32
	eventTypeState = "state"
	eventTypeError = "error"
)

// Event is the wire shape pushed to observers.
type Event struct {
	Type     string                  `json:"type"`
	Reason   domain.TransitionReason `json:"reason,omitempty"`
	Snapshot *domain.SessionSnapshot `json:"snapshot,omitempty"`
	Failure  *domain.Failure         `json:"failure,omitempty"`
	Detail   string                  `json:"detail,omitempty"`
}

// Hub implements ports.EventSink over a set of websocket observers.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams events until the observer
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Event, clientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	go h.readLoop(c)
}

// SessionStateChanged broadcasts a transition to all observers.
func (h *Hub) SessionStateChanged(snapshot domain.SessionSnapshot, reason domain.TransitionReason) {
	h.broadcast(Event{Type: eventTypeState, Reason: reason, Snapshot: &snapshot})
}

// SessionError broadcasts a user-facing failure to all observers.
func (h *Hub) SessionError(failure domain.Failure, detail string) {
	h.broadcast(Event{Type: eventTypeError, Failure: &failure, Detail: detail})
}

// ClientCount reports the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all observers. Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return nil
}

func (h *Hub) broadcast(evt Event) {
	h.mu.Lock()
	var dropped []*client
	for c := range h.clients {
		select {
		case c.send <- evt:
		default:
			// Observer is not draining; cut it loose.
			dropped = append(dropped, c)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range dropped {
		h.logger.Warn("dropping slow event stream observer")
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop discards inbound frames; its job is detecting disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}

	closeOnce sync.Once
}

func (c *client) writeLoop() {
	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
