package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// frame is the wire envelope for every event pushed to a websocket client.
type frame struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Client wraps one websocket connection's write pump and its event-bus
// unsubscribe handles. Reads are drained and discarded — this stream is
// event-out only, control commands arrive through the channel adapters,
// not the dashboard socket.
type Client struct {
	id   string
	conn *websocket.Conn

	send chan frame

	mu     sync.Mutex
	unsubs []func()
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan frame, 64),
	}
}

func (c *Client) addUnsubscribe(fn func()) {
	c.mu.Lock()
	c.unsubs = append(c.unsubs, fn)
	c.mu.Unlock()
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (c *Client) sendEvent(name string, payload any) {
	select {
	case c.send <- frame{Name: name, Payload: payload}:
	default:
		// Slow consumer: drop rather than block the publisher goroutine.
	}
}

// run drives the read and write pumps until ctx is cancelled or the
// connection closes. Grounded on gorilla/websocket's documented
// ping/pong keepalive pattern.
func (c *Client) run(ctx context.Context) {
	done := make(chan struct{})
	go c.readPump(done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if b, err := json.Marshal(f); err == nil {
				if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames (this stream is event-out only) but
// must still read to process control frames and notice a closed
// connection, per gorilla/websocket's API contract.
func (c *Client) readPump(done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
