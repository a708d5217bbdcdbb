package lobby

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/obslog"
	"github.com/quietpawn/arena/pkg/wire"
)

// Queue is the matchmaking queue: a single pending slot. Two distinct
// identities pair into a session; an identity enqueueing against itself
// just re-arms the slot with its newest connection.
type Queue struct {
	mu          sync.Mutex
	pendingID   string
	pendingConn game.Conn

	factory *game.Factory
	cat     *msgcat.Catalog
}

func NewQueue(factory *game.Factory, cat *msgcat.Catalog) *Queue {
	return &Queue{factory: factory, cat: cat}
}

// Enqueue either parks the connection as pending or pairs it with the
// pending one. The earlier arrival plays white.
func (q *Queue) Enqueue(identity string, conn game.Conn) {
	q.mu.Lock()
	if q.pendingConn == nil || q.pendingID == identity {
		q.pendingID = identity
		q.pendingConn = conn
		q.mu.Unlock()
		env := wire.MustEnvelope(wire.TypeWaiting, wire.WaitingPayload{
			Message: q.cat.Get("queue.waiting"),
		})
		if err := conn.Send(env); err != nil {
			obslog.L().Debug("ws_send_error", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
		return
	}
	white := q.pendingConn
	q.pendingID = ""
	q.pendingConn = nil
	q.mu.Unlock()

	q.factory.Create(white, conn)
}

// Withdraw clears the pending slot if it is held by conn. Called on
// disconnect; a withdrawn entry never produces a match.
func (q *Queue) Withdraw(conn game.Conn) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pendingConn == conn {
		q.pendingID = ""
		q.pendingConn = nil
	}
}
