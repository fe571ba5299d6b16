package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
)

// wsConn wraps a websocket connection behind a write mutex so the
// registry, the relay push path, and the hub's own replies can write
// concurrently. It is the registry.Conn handle for this transport.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func newConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Send pushes a server-initiated event (message, notification).
func (c *wsConn) Send(event string, payload any) error {
	return c.write(Outbound{Type: event, Data: payload})
}

// reply answers a client envelope, echoing its correlation id.
func (c *wsConn) reply(id, msgType string, payload any) error {
	return c.write(Outbound{Type: msgType, ID: id, Data: payload})
}

func (c *wsConn) write(out Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(out)
}

// Close closes the underlying transport.
func (c *wsConn) Close() error {
	return c.ws.Close()
}
