// Package websocket fans live redaction events out to dashboard clients
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer
	maxMessageSize = 512
	sendBuffer     = 256
)

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastRedactions  bool
	BroadcastRequests    bool
	BroadcastConnections bool
	MaxConnections       int
	AllowedOrigins       []string
	// OnClientCount is called from the hub goroutine whenever the client count changes
	OnClientCount func(n int)
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	DroppedEvents      int64     `json:"dropped_events"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}

type subscriptionUpdate struct {
	client  *Client
	request *SubscriptionRequest
}

type directEvent struct {
	client *Client
	event  Event
}

// Hub maintains the set of active clients and broadcasts events to them.
// The client set is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscriptionUpdate
	direct     chan directEvent
	done       chan struct{}

	config   HubConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu    sync.RWMutex
	stats HubStats
}

// NewHub creates a new WebSocket hub
func NewHub(config HubConfig, log *logger.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscriptionUpdate),
		direct:     make(chan directEvent),
		done:       make(chan struct{}),
		config:     config,
		logger:     log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles registration and broadcasting until ctx is cancelled, then
// disconnects every client
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.removeClient(client)
			}
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			if h.clients[client] {
				h.removeClient(client)
				h.logger.Info("Client disconnected",
					zap.String("client_id", client.ID),
					zap.Int("active_connections", len(h.clients)))
				h.deliver(connectionEvent("disconnected", client), nil)
			}

		case update := <-h.subscribe:
			if h.clients[update.client] {
				update.client.Subscription = update.request
				h.logger.Debug("Client subscription updated",
					zap.String("client_id", update.client.ID),
					zap.Any("subscription", update.request))
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				select {
				case msg.client.Send <- msg.event:
				default:
				}
			}

		case event := <-h.broadcast:
			h.mu.Lock()
			h.stats.TotalBroadcasts++
			h.stats.LastBroadcastTime = time.Now()
			h.mu.Unlock()
			h.deliver(event, nil)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clients[client] = true

	h.mu.Lock()
	h.stats.TotalConnections++
	h.stats.LastConnectionTime = time.Now()
	h.stats.ActiveConnections = int64(len(h.clients))
	h.mu.Unlock()
	h.notifyClientCount()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int("active_connections", len(h.clients)))

	h.deliver(connectionEvent("connected", client), client)
}

func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)
	close(client.Send)

	h.mu.Lock()
	h.stats.ActiveConnections = int64(len(h.clients))
	h.mu.Unlock()
	h.notifyClientCount()
}

func (h *Hub) notifyClientCount() {
	if h.config.OnClientCount != nil {
		h.config.OnClientCount(len(h.clients))
	}
}

// deliver sends event to every subscribed client except exclude. Clients
// that cannot keep up are disconnected.
func (h *Hub) deliver(event Event, exclude *Client) {
	if event.Type == EventTypeConnection && !h.config.BroadcastConnections {
		return
	}

	var sent int64
	for client := range h.clients {
		if client == exclude || !shouldSendToClient(client, event) {
			continue
		}
		select {
		case client.Send <- event:
			sent++
		default:
			h.logger.Warn("Client send channel full, closing connection",
				zap.String("client_id", client.ID))
			h.removeClient(client)
		}
	}

	h.mu.Lock()
	h.stats.TotalMessages += sent
	h.mu.Unlock()
}

// shouldSendToClient applies the client's subscription, if any
func shouldSendToClient(client *Client, event Event) bool {
	sub := client.Subscription
	if sub == nil {
		return true
	}

	if len(sub.Events) > 0 {
		subscribed := false
		for _, eventType := range sub.Events {
			if eventType == event.Type {
				subscribed = true
				break
			}
		}
		if !subscribed {
			return false
		}
	}

	if sub.Filter == nil {
		return true
	}
	return applyEventFilter(sub.Filter, event)
}

func applyEventFilter(filter *EventFilter, event Event) bool {
	switch data := event.Data.(type) {
	case RequestLogEvent:
		return !(filter.ExcludeHealth && data.Path == "/health")
	case NoteRedactedEvent:
		if len(filter.EntityTypes) == 0 {
			return true
		}
		for _, want := range filter.EntityTypes {
			for _, got := range data.EntityTypes {
				if want == got {
					return true
				}
			}
		}
		return false
	}
	return true
}

// BroadcastEvent queues event for all clients if its type is enabled.
// It never blocks; events are dropped when the queue is full.
func (h *Hub) BroadcastEvent(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)))
	}
}

func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeNoteRedacted:
		return h.config.BroadcastRedactions
	case EventTypeRequestLog:
		return h.config.BroadcastRequests
	case EventTypeConnection:
		return h.config.BroadcastConnections
	default:
		return false
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and attaches a new client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxConnections > 0 && h.GetStats().ActiveConnections >= int64(h.config.MaxConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan Event, sendBuffer),
		ConnectedAt: time.Now(),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientWrite pumps queued events to the connection
func (h *Hub) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Debug("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead reads subscription and ping messages until the connection closes
func (h *Hub) handleClientRead(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error",
					zap.String("client_id", client.ID),
					zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			select {
			case h.subscribe <- subscriptionUpdate{client: client, request: msg.Data}:
			case <-h.done:
				return
			}
		case "ping":
			select {
			case h.direct <- directEvent{client: client, event: Event{Type: EventTypePong, Timestamp: time.Now()}}:
			case <-h.done:
				return
			}
		}
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

func connectionEvent(action string, client *Client) Event {
	return Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:   action,
			ClientID: client.ID,
			ClientIP: client.IP,
		},
	}
}

// clientIP extracts the client IP from the request
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
