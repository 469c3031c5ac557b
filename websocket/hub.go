package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// ErrNotConnected is returned when the target user has no open connection.
var ErrNotConnected = errors.New("user not connected")

// Notification represents a message sent over WebSocket
type Notification struct {
	Type         string      `json:"type"`
	Message      string      `json:"message"`
	Data         interface{} `json:"data,omitempty"`
	UserID       string      `json:"userID,omitempty"`
	RequiresAuth bool        `json:"requiresAuth,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	UserID        primitive.ObjectID
	Conn          *websocket.Conn
	Authenticated bool

	writeMu sync.Mutex
}

// Send writes one notification; gorilla connections allow a single writer.
func (c *Client) Send(n Notification) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(n)
}

func (c *Client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub tracks open connections, one per authenticated user.
type Hub struct {
	clients                map[primitive.ObjectID]*Client
	unauthenticatedClients map[*Client]bool
	mu                     sync.RWMutex
	log                    *logrus.Entry
}

// NewHub creates a new Hub instance
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:                make(map[primitive.ObjectID]*Client),
		unauthenticatedClients: make(map[*Client]bool),
		log:                    logger.WithField("component", "websocket_hub"),
	}
}

// Register adds a client. A newer connection of the same user replaces the
// older one.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !client.Authenticated || client.UserID.IsZero() {
		h.unauthenticatedClients[client] = true
		return
	}
	if old, ok := h.clients[client.UserID]; ok && old != client {
		old.Conn.Close()
	}
	h.clients[client.UserID] = client
}

// Unregister removes the client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[client.UserID]; ok && current == client {
		delete(h.clients, client.UserID)
	}
	delete(h.unauthenticatedClients, client)
	client.Conn.Close()
}

// AuthenticateClient moves a client from unauthenticated to authenticated state
func (h *Hub) AuthenticateClient(client *Client, userID primitive.ObjectID) {
	h.mu.Lock()
	delete(h.unauthenticatedClients, client)
	client.Authenticated = true
	client.UserID = userID
	h.mu.Unlock()
	h.Register(client)
}

// Connected reports whether the user has an open connection.
func (h *Hub) Connected(userID primitive.ObjectID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// SendToUser sends a message to a specific user
func (h *Hub) SendToUser(userID primitive.ObjectID, notification Notification) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return client.Send(notification)
}

// Publish delivers a referral event to the user's connection.
func (h *Hub) Publish(userID primitive.ObjectID, eventType, message string, data interface{}) error {
	return h.SendToUser(userID, Notification{
		Type:    eventType,
		Message: message,
		Data:    data,
		UserID:  userID.Hex(),
	})
}

// Run pings every connection until ctx ends and drops the ones that stopped
// answering.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, client := range h.snapshot() {
				if err := client.ping(); err != nil {
					h.log.WithError(err).WithField("user_id", client.UserID.Hex()).Debug("dropping dead connection")
					h.Unregister(client)
				}
			}
		}
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients)+len(h.unauthenticatedClients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	for c := range h.unauthenticatedClients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.Unregister(c)
	}
}
