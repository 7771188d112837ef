package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentinel-lab/internal/domain/models"
	"sentinel-lab/pkg/logger"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = 30 * time.Second
	maxMessageSize     = 64 * 1024
	clientSendBuffer   = 64
	hubBroadcastBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard clients connect from anywhere; auth happens at the router
		return true
	},
}

// WebSocketHub fans stream events out to connected dashboard clients
type WebSocketHub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	broadcast chan StreamEvent
}

// wsClient is one connected WebSocket consumer
type wsClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter *Subscription
}

// NewWebSocketHub creates a new hub
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	return &WebSocketHub{
		logger:    log.WithComponent("websocket-hub"),
		clients:   make(map[*wsClient]struct{}),
		broadcast: make(chan StreamEvent, hubBroadcastBuffer),
	}
}

// Run drains the broadcast channel until the context is cancelled
func (h *WebSocketHub) Run(ctx context.Context) {
	h.logger.Info().Msg("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("WebSocket hub stopping")
			h.closeAll()
			return
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Broadcast queues an event for delivery. Never blocks; when the hub is
// backed up the event is dropped.
func (h *WebSocketHub) Broadcast(event StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("event_type", string(event.EventType())).Msg("broadcast buffer full, dropping event")
	}
}

func (h *WebSocketHub) fanOut(event StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal stream event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Slow client, skip this event
		}
	}
}

func (h *WebSocketHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *WebSocketHub) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	h.logger.Info().Int("clients", len(h.clients)).Msg("client connected")
}

func (h *WebSocketHub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info().Int("clients", len(h.clients)).Msg("client disconnected")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWebSocket upgrades the request and starts the client pumps. The
// initial filter comes from query parameters; clients may replace it at any
// time by sending a subscription JSON message.
func (h *WebSocketHub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		filter: filterFromQuery(r),
	}

	h.register(client)

	go client.writePump()
	go client.readPump()
}

// filterFromQuery builds the initial subscription from the min_score, types
// and events request parameters
func filterFromQuery(r *http.Request) *Subscription {
	q := r.URL.Query()

	sub := &Subscription{}
	if v := q.Get("min_score"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			sub.MinScore = score
		}
	}
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			sub.Types = append(sub.Types, models.CorrelationType(t))
		}
	}
	for _, e := range strings.Split(q.Get("events"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			sub.Events = append(sub.Events, EventType(e))
		}
	}
	return sub
}

func (c *wsClient) wants(event StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter == nil || c.filter.Matches(event)
}

func (c *wsClient) setFilter(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = sub
}

// readPump consumes client messages until the connection drops. The only
// accepted message is a subscription update.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.hub.logger.Debug().Err(err).Msg("ignoring malformed subscription update")
			continue
		}
		c.setFilter(&sub)
	}
}

// writePump pushes queued events and keeps the connection alive with pings
func (c *wsClient) writePump() {
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain whatever queued up behind this event
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
