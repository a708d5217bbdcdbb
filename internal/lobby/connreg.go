// Package lobby covers everything that happens to a connection before it
// belongs to a match: identity binding, matchmaking, and reconnection
// resolution.
package lobby

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/obslog"
)

// ConnRegistry keeps at most one live connection per identity.
type ConnRegistry struct {
	mu         sync.Mutex
	byIdentity map[string]game.Conn
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{byIdentity: make(map[string]game.Conn)}
}

// Bind records conn as the identity's connection. A previous connection
// for the same identity is force-closed: re-login supersedes.
func (r *ConnRegistry) Bind(identity string, conn game.Conn) {
	r.mu.Lock()
	old := r.byIdentity[identity]
	r.byIdentity[identity] = conn
	r.mu.Unlock()

	if old != nil && old != conn {
		obslog.L().Info("conn_superseded",
			zap.String("identity", identity),
			zap.String("old_conn_id", old.ID()),
			zap.String("new_conn_id", conn.ID()),
		)
		_ = old.Close("superseded by new login")
	}
}

// Unbind removes the mapping held by conn. Unbinding an unknown or
// already-superseded connection is a no-op.
func (r *ConnRegistry) Unbind(conn game.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byIdentity[conn.Identity()]; ok && cur == conn {
		delete(r.byIdentity, conn.Identity())
	}
}

// Get returns the identity's current connection, if any.
func (r *ConnRegistry) Get(identity string) game.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byIdentity[identity]
}
