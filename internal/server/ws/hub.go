// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/recledger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusFunc reports the ledger status sent to clients on connect.
type StatusFunc func(ctx context.Context) map[string]any

// Config configures a Hub.
type Config struct {
	// Channel is the signal bus channel carrying encoded ledger events.
	Channel string
	Status  StatusFunc
}

// client represents a single WebSocket connection. An empty type set means
// the client receives every event.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	types map[domain.EventType]bool
	mu    sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to filter event types.
type subscribeMsg struct {
	Action string             `json:"action"` // "subscribe" or "unsubscribe"
	Types  []domain.EventType `json:"types"`
}

type broadcastMsg struct {
	typ  domain.EventType
	data []byte
}

// Hub fans ledger events out to connected clients. Events arrive either from
// the signal bus or through Broadcast.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channel    string
	status     StatusFunc
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil, in which case only Broadcast feeds it.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channel:    cfg.Channel,
		status:     cfg.Status,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run handles client registration and message fan-out until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil && h.channel != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.typ) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an encoded ledger event for delivery.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) {
	var head struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		h.logger.Warn("ws: ignoring undecodable event", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{typ: head.Type, data: payload}:
	case <-ctx.Done():
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.channel))
	for data := range msgs {
		h.Broadcast(ctx, data)
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		types: make(map[domain.EventType]bool),
	}
	h.register <- c
	c.sendStatus(r.Context())

	go c.writePump()
	go c.readPump()
}

// readPump reads subscription changes from the client.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.types[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.types, t)
		}
	}
}

func (c *client) wants(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) == 0 || c.types[t]
}

// sendStatus pushes a ledger_status envelope so clients know the connection
// is live before any event arrives.
func (c *client) sendStatus(ctx context.Context) {
	payload := map[string]any{}
	if c.hub.status != nil {
		payload = c.hub.status(ctx)
	}
	msg, err := json.Marshal(map[string]any{"type": "ledger_status", "payload": payload})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump writes queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
