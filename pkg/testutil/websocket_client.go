package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReceivedMessage is a decoded broker frame as seen by a test client
type ReceivedMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// DecodeData unmarshals the frame body into out
func (m ReceivedMessage) DecodeData(out interface{}) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, out)
}

// WebSocketTestClient drives a live broker connection in tests
type WebSocketTestClient struct {
	conn     *websocket.Conn
	messages chan ReceivedMessage
	errors   chan error
	closed   bool
	mutex    sync.RWMutex
}

// NewWebSocketTestClient connects to the broker with a Bearer token header
func NewWebSocketTestClient(serverURL string, jwt string) (*WebSocketTestClient, error) {
	headers := http.Header{}
	if jwt != "" {
		headers.Set("Authorization", "Bearer "+jwt)
	}
	return dialTestClient(serverURL, headers)
}

// NewWebSocketTestClientQueryToken connects to the broker with a token query
// parameter instead of a header
func NewWebSocketTestClientQueryToken(serverURL string, jwt string) (*WebSocketTestClient, error) {
	return dialTestClient(serverURL+"?token="+jwt, http.Header{})
}

func dialTestClient(serverURL string, headers http.Header) (*WebSocketTestClient, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(serverURL, headers)
	if resp != nil {
		defer func() {
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return nil, err
	}

	client := &WebSocketTestClient{
		conn:     conn,
		messages: make(chan ReceivedMessage, 32),
		errors:   make(chan error, 1),
	}

	go client.readPump()

	return client, nil
}

// Send writes a client frame of the given type with the given body
func (c *WebSocketTestClient) Send(messageType string, data interface{}) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	frame := map[string]interface{}{"type": messageType}
	if data != nil {
		frame["data"] = data
	}
	return c.conn.WriteJSON(frame)
}

// SendRaw writes an arbitrary text frame, useful for malformed input tests
func (c *WebSocketTestClient) SendRaw(payload []byte) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// ReadMessage reads the next broker frame (blocking)
func (c *WebSocketTestClient) ReadMessage() (ReceivedMessage, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case err := <-c.errors:
		return ReceivedMessage{}, err
	}
}

// ReadMessageTimeout reads the next broker frame with a timeout
func (c *WebSocketTestClient) ReadMessageTimeout(timeout time.Duration) (ReceivedMessage, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case err := <-c.errors:
		return ReceivedMessage{}, err
	case <-time.After(timeout):
		return ReceivedMessage{}, context.DeadlineExceeded
	}
}

// WaitFor reads frames until one of the given type arrives, discarding
// others. Broadcasts interleave with direct replies, so most assertions
// want this rather than ReadMessage.
func (c *WebSocketTestClient) WaitFor(messageType string, timeout time.Duration) (ReceivedMessage, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg.Type == messageType {
				return msg, nil
			}
		case err := <-c.errors:
			return ReceivedMessage{}, err
		case <-deadline:
			return ReceivedMessage{}, context.DeadlineExceeded
		}
	}
}

// Close closes the client connection
func (c *WebSocketTestClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		return c.conn.Close()
	}

	return nil
}

func (c *WebSocketTestClient) readPump() {
	for {
		var message ReceivedMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				select {
				case c.errors <- err:
				default:
				}
			}
			break
		}

		select {
		case c.messages <- message:
		default:
			// Channel full, drop message
		}
	}
}
