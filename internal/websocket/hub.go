package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"frameworks/api_signaling/pkg/api/lookout"
	"frameworks/api_signaling/pkg/logging"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Upgrader is shared by the HTTP handlers that accept broker connections.
// Origin checks are left open: clients authenticate with tokens, not cookies.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub maintains the set of active connections and delivers frames to them.
// Registered clients additionally sit in a per-role group used for fan-out.
type Hub struct {
	clients      map[*Client]bool
	byConnection map[string]*Client
	groups       map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	dispatcher Dispatcher
	logger     logging.Logger
	mutex      sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		byConnection: make(map[string]*Client),
		groups:       make(map[string]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		logger:       logger,
	}
}

// SetDispatcher wires the message dispatcher. Must be called before the
// first connection is accepted.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// Run starts the hub's membership loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.byConnection[client.ConnectionID] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithFields(logging.Fields{
				"connection_id": client.ConnectionID,
				"client_id":     client.ClientID,
				"role":          client.Role,
				"client_count":  clientCount,
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mutex.Unlock()
				continue
			}
			delete(h.clients, client)
			delete(h.byConnection, client.ConnectionID)
			if group, ok := h.groups[client.Role]; ok {
				delete(group, client)
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()

			client.shutdown()
			h.logger.WithFields(logging.Fields{
				"connection_id": client.ConnectionID,
				"client_id":     client.ClientID,
				"client_count":  clientCount,
			}).Info("Client disconnected")
		}
	}
}

// HandleConnection attaches an upgraded connection to the hub and starts its
// pumps. Identity comes from the verified token presented at upgrade.
func (h *Hub) HandleConnection(conn *websocket.Conn, clientID, role string) *Client {
	client := &Client{
		hub:          h,
		conn:         conn,
		ConnectionID: uuid.NewString(),
		ClientID:     clientID,
		Role:         role,
		send:         make(chan []byte, 256),
		quit:         make(chan struct{}),
		logger:       h.logger,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

// JoinGroup adds a client to its role group, making it a fan-out target
func (h *Hub) JoinGroup(c *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	group, ok := h.groups[c.Role]
	if !ok {
		group = make(map[*Client]bool)
		h.groups[c.Role] = group
	}
	group[c] = true
}

// BroadcastToRole fans a frame out to every registered client of a role,
// returning the number of clients it was queued for.
func (h *Hub) BroadcastToRole(role, messageType string, data interface{}) int {
	frame, err := h.newFrame(messageType, data)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal broadcast message")
		return 0
	}

	h.mutex.RLock()
	members := make([]*Client, 0, len(h.groups[role]))
	for client := range h.groups[role] {
		members = append(members, client)
	}
	h.mutex.RUnlock()

	delivered := 0
	for _, client := range members {
		if client.enqueue(frame) {
			delivered++
		}
	}
	return delivered
}

// SendToConnection delivers a frame to one connection by its handle.
// Returns false when the connection is gone.
func (h *Hub) SendToConnection(connectionID, messageType string, data interface{}) bool {
	h.mutex.RLock()
	client, ok := h.byConnection[connectionID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	return h.Send(client, messageType, data)
}

// Send delivers a frame to one client
func (h *Hub) Send(c *Client, messageType string, data interface{}) bool {
	frame, err := h.newFrame(messageType, data)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal client message")
		return false
	}
	return c.enqueue(frame)
}

// drop evicts a client that can no longer keep up. The read pump notices
// the closed connection and runs the normal disconnect path.
func (h *Hub) drop(c *Client) {
	c.shutdown()
	go func() {
		h.unregister <- c
	}()
}

// ConnectionCounts returns the total connection count and the registered
// count per role
func (h *Hub) ConnectionCounts() (total int, registered map[string]int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	registered = make(map[string]int, len(h.groups))
	for role, group := range h.groups {
		registered[role] = len(group)
	}
	return len(h.clients), registered
}

// newFrame wraps a payload in the outbound envelope and marshals it
func (h *Hub) newFrame(messageType string, data interface{}) ([]byte, error) {
	return json.Marshal(lookout.Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}
