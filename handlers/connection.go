package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errConnectionClosed = errors.New("connection closed")

// wsConnection adapts a gorilla connection to services.Connection. Data
// writes are serialised; control frames go through WriteControl, which
// gorilla allows concurrently with other writers.
type wsConnection struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func newWSConnection(ws *websocket.Conn, writeTimeout time.Duration) *wsConnection {
	return &wsConnection{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *wsConnection) ID() string {
	return c.id
}

func (c *wsConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConnection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a normal close frame and releases the socket, which also
// unblocks a pending read. Repeated calls return the first result.
func (c *wsConnection) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConnection) closeWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		c.writeMu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// keepalive pings until done is closed or a ping fails
func (c *wsConnection) keepalive(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				// The read loop sees the broken socket and tears down
				_ = c.ws.Close()
				return
			}
		}
	}
}
