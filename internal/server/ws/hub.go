// Package ws bridges the Redis signal bus to WebSocket clients: decision
// and experiment events fan out live to any dashboard that connects.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oscarmtz/pricebot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// defaultChannels are the bus channels the hub mirrors to clients.
var defaultChannels = []string{
	"pricing.decisions",
	"pricing.experiments",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced by the HTTP middleware chain; the upgrade itself
		// accepts any origin.
		return true
	},
}

// client is one connected WebSocket peer with its channel subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON control frame clients send to adjust their
// channel subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope wraps every outgoing frame with its source channel.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Hub relays bus messages to connected clients. Each client starts
// subscribed to all default channels and can narrow its set with control
// frames.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a Hub over the given signal bus. Mode is reported in the
// greeting frame sent on connect.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Run drives the hub loop until the context is cancelled. Call it in a
// goroutine.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.relayChannel(ctx, ch)
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
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total", h.clientCount()))

		case msg := <-h.broadcast:
			frame, err := json.Marshal(envelope{Channel: msg.channel, Payload: msg.data})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					// Slow client, drop rather than stall the loop.
					h.logger.Warn("dropping frame for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relayChannel forwards one bus channel into the broadcast loop.
func (h *Hub) relayChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("channel subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast <- broadcastMsg{channel: channel, data: data}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.sendGreeting()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

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
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.applySubscription(sub)
		}
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendGreeting pushes a status frame so clients can mark the connection
// healthy before any pricing event flows.
func (c *client) sendGreeting() {
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		"channels":       defaultChannels,
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "status", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

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
