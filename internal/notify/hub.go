package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/quakerisk/internal/event"
)

// AlertsTopic is the only topic the hub serves.
const AlertsTopic = "alerts"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message is the envelope written to websocket clients.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// ring holds the most recent messages for replay to new clients.
type ring struct {
	buf   []Message
	start int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]Message, size)}
}

func (r *ring) add(m Message) {
	if len(r.buf) == 0 {
		return
	}
	idx := (r.start + r.count) % len(r.buf)
	if r.count == len(r.buf) {
		r.start = (r.start + 1) % len(r.buf)
		r.count--
	}
	r.buf[idx] = m
	r.count++
}

func (r *ring) since(seq uint64) []Message {
	var out []Message
	for i := 0; i < r.count; i++ {
		m := r.buf[(r.start+i)%len(r.buf)]
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
	since uint64
}

// Hub broadcasts alerts to connected websocket clients and replays recent
// alerts to new ones.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan Message

	mu      sync.RWMutex
	clients map[*client]struct{}
	replay  *ring
	done    chan struct{}
	nextSeq uint64 // owned by Run

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub keeping replaySize recent messages. Call Run to start it.
func NewHub(replaySize int, logger *slog.Logger) *Hub {
	if replaySize < 0 {
		replaySize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 256),
		clients:    make(map[*client]struct{}),
		replay:     newRing(replaySize),
		nextSeq:    1,
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) Type() string { return "websocket" }

// Run owns client registration and fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			for _, m := range h.replay.since(c.since) {
				select {
				case c.send <- m:
				default:
				}
			}
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case m := <-h.broadcast:
			m.Seq = h.nextSeq
			h.nextSeq++
			h.mu.Lock()
			h.replay.add(m)
			for c := range h.clients {
				select {
				case c.send <- m:
				default:
					// slow client: drop the message rather than stall the hub
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify broadcasts a to every connected client.
func (h *Hub) Notify(ctx context.Context, a event.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert marshal error: %w", err)
	}
	m := Message{Topic: AlertsTopic, Data: data}
	select {
	case h.broadcast <- m:
		return nil
	case <-h.done:
		return fmt.Errorf("hub stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection. The optional
// "since" query parameter limits replay to messages with a larger sequence.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = v
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan Message, len(h.replay.buf)+64),
		since: since,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; clients never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case m, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
