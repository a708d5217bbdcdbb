package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quietpawn/arena/pkg/wire"
)

const writeTimeout = 5 * time.Second

// wsConn adapts a websocket connection to game.Conn. Writes are
// serialized; the session layer may broadcast from several goroutines.
type wsConn struct {
	id       string
	identity string

	mu sync.Mutex
	ws *websocket.Conn
}

func newWSConn(identity string, ws *websocket.Conn) *wsConn {
	return &wsConn{
		id:       uuid.NewString(),
		identity: identity,
		ws:       ws,
	}
}

func (c *wsConn) ID() string       { return c.id }
func (c *wsConn) Identity() string { return c.identity }

func (c *wsConn) Send(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, env)
}

func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}
