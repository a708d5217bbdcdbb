package lobby

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/engine"
	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/obslog"
	"github.com/quietpawn/arena/internal/rating"
	"github.com/quietpawn/arena/pkg/wire"
)

// StaleAfter is how old a stored in-progress match may be before a
// reconnect auto-abandons it instead of resuming.
const StaleAfter = 24 * time.Hour

// MatchFinder is the slice of the store the resolver needs.
type MatchFinder interface {
	FindInProgressByUser(ctx context.Context, userID string) (*game.Match, error)
	MarkAbandoned(ctx context.Context, matchID, abandonedBy string) error
}

// Resolver restores a reconnecting identity's binding to its match:
// first against the live session table, then against the store. Stored
// matches are restored display-only: the player can abandon but not
// move until and unless a live session is rebuilt, which this server
// deliberately does not do.
type Resolver struct {
	mu       sync.Mutex
	inflight map[string]struct{}

	registry *game.Registry
	store    MatchFinder
	ratings  game.Ratings
	cat      *msgcat.Catalog

	timeControlMs int64
	staleAfter    time.Duration
}

func NewResolver(registry *game.Registry, store MatchFinder, ratings game.Ratings, cat *msgcat.Catalog, timeControlMs int64) *Resolver {
	return &Resolver{
		inflight:      make(map[string]struct{}),
		registry:      registry,
		store:         store,
		ratings:       ratings,
		cat:           cat,
		timeControlMs: timeControlMs,
		staleAfter:    StaleAfter,
	}
}

// Resolve attempts to resume identity's in-progress match on conn.
// Concurrent calls for the same identity collapse to one: later arrivals
// no-op while a resolution is in flight, so rapid reconnects cannot
// double-rebind or double-send snapshots.
func (r *Resolver) Resolve(ctx context.Context, identity string, conn game.Conn) {
	r.mu.Lock()
	if _, busy := r.inflight[identity]; busy {
		r.mu.Unlock()
		return
	}
	r.inflight[identity] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, identity)
		r.mu.Unlock()
	}()

	if s := r.registry.FindByPlayer(identity); s != nil {
		state, ok := s.Rebind(identity, conn)
		if !ok {
			return
		}
		r.send(conn, wire.MustEnvelope(wire.TypeGameState, state))
		obslog.L().Info("reconnect_live",
			zap.String("identity", identity),
			zap.String("match_id", state.MatchID),
		)
		return
	}

	m, err := r.store.FindInProgressByUser(ctx, identity)
	if err != nil {
		obslog.L().Warn("reconnect_store_error", zap.String("identity", identity), zap.Error(err))
		return
	}
	if m == nil {
		return
	}
	if time.Since(m.CreatedAt) > r.staleAfter {
		if err := r.store.MarkAbandoned(ctx, m.ID, ""); err != nil {
			obslog.L().Warn("stale_abandon_error", zap.String("match_id", m.ID), zap.Error(err))
		}
		obslog.L().Info("reconnect_stale_abandoned",
			zap.String("identity", identity),
			zap.String("match_id", m.ID),
		)
		return
	}

	color := engine.White
	if identity == m.BlackID {
		color = engine.Black
	}
	wt, bt := m.WhiteTimeMs, m.BlackTimeMs
	if wt <= 0 {
		wt = r.timeControlMs
	}
	if bt <= 0 {
		bt = r.timeControlMs
	}
	r.send(conn, wire.MustEnvelope(wire.TypeGameState, wire.GameStatePayload{
		MatchID:     m.ID,
		Position:    m.FEN,
		MoveHistory: append([]string(nil), m.MovesSAN...),
		Color:       string(color),
		WhiteTime:   wt,
		BlackTime:   bt,
		CanAbandon:  true,
	}))
	obslog.L().Info("reconnect_stored",
		zap.String("identity", identity),
		zap.String("match_id", m.ID),
	)
}

// AbandonOrphaned abandons identity's stored in-progress match when no
// live session exists for it. Only the requester is notified; there is
// nobody else connected to tell.
func (r *Resolver) AbandonOrphaned(ctx context.Context, identity string, conn game.Conn) {
	m, err := r.store.FindInProgressByUser(ctx, identity)
	if err != nil {
		obslog.L().Warn("orphan_abandon_error", zap.String("identity", identity), zap.Error(err))
		return
	}
	if m == nil {
		return
	}
	color := engine.White
	if identity == m.BlackID {
		color = engine.Black
	}
	if err := r.store.MarkAbandoned(ctx, m.ID, string(color)); err != nil {
		obslog.L().Error("orphan_abandon_error", zap.String("match_id", m.ID), zap.Error(err))
		return
	}
	delta, err := r.ratings.Penalize(ctx, identity, rating.AbandonPenalty)
	if err != nil {
		obslog.L().Error("rating_penalty_error", zap.String("identity", identity), zap.Error(err))
	}
	r.send(conn, wire.MustEnvelope(wire.TypeGameAbandoned, wire.GameAbandonedPayload{
		Message:      r.cat.Get("abandon.done_orphaned"),
		AbandonedBy:  string(color),
		RatingChange: delta,
	}))
	obslog.L().Info("match_abandon_orphaned",
		zap.String("match_id", m.ID),
		zap.String("identity", identity),
	)
}

func (r *Resolver) send(conn game.Conn, env wire.Envelope) {
	if err := conn.Send(env); err != nil {
		obslog.L().Debug("ws_send_error", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}
