// Package transport is the bidirectional duplex message channel the core
// requires of its collaborator: one goroutine per connection
// reads frames off the socket and hands decoded envelopes to a Handler; a
// second goroutine owns the write side and drains a per-connection
// outbound channel, so concurrent emits from rooms and timers never race
// on a single *websocket.Conn.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Envelope is the {type, payload} JSON frame every inbound and outbound
// message is wrapped in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is what the gateway implements to receive transport callbacks.
type Handler interface {
	OnConnect(connID string)
	OnMessage(connID string, env Envelope)
	OnDisconnect(connID string)
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one live websocket connection.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
}

// Hub owns every live Conn and implements bus.Emitter.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]*Conn
	handler Handler
	logger  *slog.Logger
}

func NewHub(handler Handler, logger *slog.Logger) *Hub {
	return &Hub{conns: make(map[string]*Conn), handler: handler, logger: logger}
}

// SetHandler wires the handler after construction, for callers that need
// to build the handler from collaborators (like the bus) that themselves
// depend on this Hub as their Emitter.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// Upgrade accepts a new websocket connection and starts its read/write
// pumps. It returns once the handshake completes; the pumps run until the
// connection closes.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	connID := uuid.NewString()
	c := &Conn{id: connID, ws: ws, send: make(chan []byte, outboundBuffer)}

	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()

	go h.writePump(c)
	h.handler.OnConnect(connID)
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *Conn) {
	defer h.remove(c)
	c.ws.SetReadLimit(1 << 20)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("dropping malformed frame", "connId", c.id, "error", err)
			continue
		}
		h.handler.OnMessage(c.id, env)
	}
}

func (h *Hub) writePump(c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	_, existed := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if !existed {
		return
	}
	close(c.send)
	_ = c.ws.Close()
	h.handler.OnDisconnect(c.id)
}

// Send implements bus.Emitter: it marshals payload into an Envelope and
// queues it on the target connection's outbound channel. A full buffer or
// unknown connId is a transient transport error: logged, not retried.
func (h *Hub) Send(connID, event string, payload any) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("dropping outbound frame: unknown connection", "connId", connID, "event", event)
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Type: event, Payload: body})
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		h.logger.Warn("dropping outbound frame: connection backed up", "connId", connID, "event", event)
		return nil
	}
}

// CloseAll closes every live connection, used during graceful shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}
