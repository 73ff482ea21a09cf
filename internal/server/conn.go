package server

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/setcue/setcue/internal/protocol"
	"github.com/setcue/setcue/internal/session"
)

// writeTimeout bounds a single outbound frame write. A stalled client must
// not be able to wedge a broadcast for everyone else.
const writeTimeout = 10 * time.Second

// wsConn adapts a coder/websocket connection to the session.Conn contract.
// The write lock serialises concurrent Sends (broadcasts and direct replies
// can race), so frames go out whole and in call order.
type wsConn struct {
	id string
	ws *websocket.Conn

	mu sync.Mutex
}

var _ session.Conn = (*wsConn)(nil)

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.NewString(), ws: ws}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg protocol.ServerMessage) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}
