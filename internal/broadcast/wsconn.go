package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn adapts a websocket connection to Sender. gorilla/websocket allows one
// concurrent writer, so every write goes through mu.
type WSConn struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps an upgraded connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes a text frame, giving up at ctx's deadline.
func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Read returns the next frame and, when idle is positive, pushes the read
// deadline out by idle. Only one goroutine may read.
func (c *WSConn) Read(idle time.Duration) (int, []byte, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err == nil && idle > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	return msgType, data, err
}

// Ping writes a ping control frame.
func (c *WSConn) Ping(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// Close closes the underlying connection once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
