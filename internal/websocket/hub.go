package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adlaunch/backend/internal/auth"
	"github.com/adlaunch/backend/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope of every frame
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// TokenValidator resolves the session token passed as ?token=
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Client is one live connection of a tenant user
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	clientID uuid.UUID
	userID   uuid.UUID
}

type tenantMessage struct {
	clientID uuid.UUID
	data     []byte
}

// Hub fans tenant events out to that tenant's connections only
type Hub struct {
	tenants    map[uuid.UUID]map[*Client]bool
	broadcast  chan *tenantMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		tenants:    make(map[uuid.UUID]map[*Client]bool),
		broadcast:  make(chan *tenantMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub main loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.tenants[client.clientID] == nil {
				h.tenants[client.clientID] = make(map[*Client]bool)
			}
			h.tenants[client.clientID][client] = true
			h.mu.Unlock()
			logger.Debug().Str("client_id", client.clientID.String()).Msg("WebSocket connected")

		case client := <-h.unregister:
			h.remove(client)
			logger.Debug().Str("client_id", client.clientID.String()).Msg("WebSocket disconnected")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.tenants[client.clientID]
	if !ok || !conns[client] {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(h.tenants, client.clientID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conns := range h.tenants {
		for client := range conns {
			close(client.send)
		}
		delete(h.tenants, id)
	}
}

func (h *Hub) deliver(msg *tenantMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.tenants[msg.clientID] {
		select {
		case client.send <- msg.data:
		default:
			logger.Warn().Str("client_id", msg.clientID.String()).Msg("WebSocket send buffer full, dropping event")
		}
	}
}

// NotifyClient queues an event for every connection of the tenant. It never
// blocks the caller; events are dropped when the hub is saturated.
func (h *Hub) NotifyClient(clientID uuid.UUID, msgType string, payload interface{}) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Failed to encode WebSocket event")
		return
	}
	select {
	case h.broadcast <- &tenantMessage{clientID: clientID, data: data}:
	default:
		logger.Warn().Str("type", msgType).Msg("WebSocket hub saturated, dropping event")
	}
}

// ConnectionCount returns the number of live connections of a tenant.
func (h *Hub) ConnectionCount(clientID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[clientID])
}

// ServeWs authenticates ?token= and upgrades the connection.
func ServeWs(hub *Hub, validator TokenValidator, w http.ResponseWriter, r *http.Request) {
	claims, err := validator.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid token"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 64),
		clientID: claims.ClientID,
		userID:   claims.UserID,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
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

// Only application level ping is understood; events flow server to client.
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type == "ping" {
		select {
		case c.send <- []byte(`{"type":"pong"}`):
		default:
		}
	}
}
