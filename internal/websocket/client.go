package websocket

import (
	"sync"
	"time"

	"frameworks/api_signaling/pkg/logging"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers run large.
	maxMessageSize = 64 * 1024
)

// Dispatcher receives inbound frames and disconnect notifications from
// client connections. Both callbacks run on the connection's read goroutine,
// so per-connection handling is sequential.
type Dispatcher interface {
	HandleMessage(c *Client, message []byte)
	HandleDisconnect(c *Client)
}

// Client represents one authenticated WebSocket connection. ConnectionID,
// ClientID and Role are fixed at upgrade time. Registered is owned by the
// read goroutine: it flips when the client completes registration.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	ConnectionID string
	ClientID     string
	Role         string
	Registered   bool

	send      chan []byte
	quit      chan struct{}
	closeOnce sync.Once

	logger logging.Logger
}

// shutdown signals the write pump to drain and close. Safe to call from any
// goroutine, any number of times.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
}

// enqueue hands a marshaled frame to the write pump. The send channel is
// never closed, so a frame enqueued to a departing client is simply dropped
// with it. A client whose buffer is full is evicted rather than allowed to
// stall the broker.
func (c *Client) enqueue(message []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		c.logger.WithFields(logging.Fields{
			"connection_id": c.ConnectionID,
			"client_id":     c.ClientID,
		}).Warn("Client send buffer full, evicting")
		c.hub.drop(c)
		return false
	}
}

// readPump pumps frames from the WebSocket connection to the dispatcher.
// The connection enforces one reader; when it exits the client is
// unregistered and its disconnect cascade runs.
func (c *Client) readPump() {
	defer func() {
		c.hub.dispatcher.HandleDisconnect(c)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithFields(logging.Fields{
					"connection_id": c.ConnectionID,
					"client_id":     c.ClientID,
				}).Warn("WebSocket connection error")
			}
			break
		}

		c.hub.dispatcher.HandleMessage(c, message)
	}
}

// writePump pumps frames from the send buffer to the WebSocket connection
// and keeps the transport alive with pings. One frame per message: clients
// parse frames as standalone JSON documents.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
