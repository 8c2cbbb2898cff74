package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenArmCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a token in the first message, so the
	// origin carries no credentials worth protecting
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool
	permissions   []auth.Permission

	topicsMu sync.RWMutex
	topics   map[string]bool
}

// clientMessage is what clients may send: one auth message, then subscriptions.
type clientMessage struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

func (c *Client) wants(t MessageType) bool {
	c.topicsMu.RLock()
	defer c.topicsMu.RUnlock()
	return c.topics[t.topic()]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.unregisterClient(c)
			c.conn.Close()
			return
		}
		// Not known to the hub: writePump flushes pending replies and closes
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if c.authenticated {
		if registered = c.hub.registerClient(c); !registered {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.conn.RemoteAddr().String()))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))

			// Only authenticated clients receive broadcasts
			if registered = c.hub.registerClient(c); !registered {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	permissions, err := c.hub.authService.ValidateToken(
		context.Background(),
		msg.Token,
		c.conn.RemoteAddr().String(),
		"", // User-Agent not available in WebSocket
	)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.conn.RemoteAddr().String()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}
	if !slices.Contains(permissions, auth.PermOperator) {
		c.sendAuthFailed("Insufficient permissions")
		return false
	}

	c.authenticated = true
	c.permissions = permissions
	c.sendAuthSuccess()
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.Any("permissions", permissions))
	return true
}

func (c *Client) sendAuthSuccess() {
	c.sendControl(map[string]any{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": c.permissions,
	})
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendControl(map[string]any{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
}

// sendControl queues a reply. Only valid before the client is registered,
// after that the hub owns the send channel.
func (c *Client) sendControl(msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleMessage applies a subscription change. Unknown topics are ignored.
func (c *Client) handleMessage(msg clientMessage) {
	if msg.Type != "subscribe" {
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.conn.RemoteAddr().String()),
			zap.String("type", msg.Type))
		return
	}

	topics := make(map[string]bool)
	for _, t := range msg.Topics {
		switch t {
		case TopicState, TopicMotion, TopicSystem:
			topics[t] = true
		}
	}

	c.topicsMu.Lock()
	c.topics = topics
	c.topicsMu.Unlock()

	c.logger.Debug("WebSocket subscription changed",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.Strings("topics", msg.Topics))
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
		topics: map[string]bool{TopicState: true, TopicMotion: true, TopicSystem: true},
	}

	// Mit deaktivierter Auth gibt es keine Auth-Nachricht
	if !hub.authService.Enabled() {
		client.authenticated = true
		client.permissions = []auth.Permission{auth.PermOperator, auth.PermTechnician, auth.PermAdmin}
		client.sendAuthSuccess()
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
