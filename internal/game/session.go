package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/engine"
	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/obslog"
	"github.com/quietpawn/arena/internal/rating"
	"github.com/quietpawn/arena/pkg/wire"
)

const (
	defaultTimeControlMs = 600_000
	defaultTickInterval  = 100 * time.Millisecond
	persistTimeout       = 5 * time.Second
)

// Session is the live authoritative state of one match. Every mutation,
// inbound messages and the session's own clock ticks alike, serializes on mu,
// so no two moves ever apply concurrently and a tick can never race a
// termination. Broadcasts happen under the lock as well, which keeps the
// frame order on every connection consistent with the order of state
// transitions the session went through.
type Session struct {
	id        string
	whiteID   string
	blackID   string
	createdAt time.Time

	mu         sync.Mutex
	white      Conn
	black      Conn
	spectators map[Conn]struct{}
	board      *engine.Board
	moveCount  int
	whiteMs    int64
	blackMs    int64
	lastTick   time.Time
	status     Status
	result     string
	reason     string
	abandoned  string

	tick     time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	store      Store
	ratings    Ratings
	cat        *msgcat.Catalog
	onTerminal func(*Session)
}

// Factory builds sessions with shared collaborators. Create wires the new
// session into the registry, persists the initial snapshot, notifies both
// players and starts the clock.
type Factory struct {
	Registry      *Registry
	Store         Store
	Ratings       Ratings
	Catalog       *msgcat.Catalog
	TimeControlMs int64
	TickInterval  time.Duration
}

// Create pairs two connections into a new active session. The first
// connection plays white, the second black.
func (f *Factory) Create(whiteConn, blackConn Conn) *Session {
	now := time.Now()
	tc := f.TimeControlMs
	if tc <= 0 {
		tc = defaultTimeControlMs
	}
	tick := f.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	s := &Session{
		id:         NewMatchID(),
		whiteID:    whiteConn.Identity(),
		blackID:    blackConn.Identity(),
		createdAt:  now,
		white:      whiteConn,
		black:      blackConn,
		spectators: make(map[Conn]struct{}),
		board:      engine.NewBoard(),
		whiteMs:    tc,
		blackMs:    tc,
		lastTick:   now,
		status:     StatusActive,
		tick:       tick,
		stopCh:     make(chan struct{}),
		store:      f.Store,
		ratings:    f.Ratings,
		cat:        f.Catalog,
	}
	if f.Registry != nil {
		reg := f.Registry
		s.onTerminal = func(sess *Session) { reg.Remove(sess.ID()) }
		reg.Add(s)
	}

	go s.persist(s.Snapshot())

	s.send(whiteConn, wire.MustEnvelope(wire.TypeInitGame,
		wire.MatchFoundPayload{Color: string(engine.White), MatchID: s.id}))
	s.send(blackConn, wire.MustEnvelope(wire.TypeInitGame,
		wire.MatchFoundPayload{Color: string(engine.Black), MatchID: s.id}))

	go s.runClock()

	obslog.L().Info("match_create",
		zap.String("match_id", s.id),
		zap.String("white_id", s.whiteID),
		zap.String("black_id", s.blackID),
		zap.Int64("time_control_ms", tc),
	)
	return s
}

func (s *Session) ID() string      { return s.id }
func (s *Session) WhiteID() string { return s.whiteID }
func (s *Session) BlackID() string { return s.blackID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HasPlayer reports whether identity is one of the two players.
func (s *Session) HasPlayer(identity string) bool {
	return identity == s.whiteID || identity == s.blackID
}

// HasConn reports whether c is currently bound as a player connection.
func (s *Session) HasConn(c Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c == s.white || c == s.black
}

// ApplyMove validates and applies a candidate move from conn, then
// broadcasts it to the opponent and all spectators. Rejections answer
// conn with an ERROR frame and leave the position untouched.
func (s *Session) ApplyMove(conn Conn, mv wire.Move) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		s.sendError(conn, s.cat.Get("move.game_inactive"))
		return
	}
	color, ok := s.colorOfLocked(conn)
	if !ok {
		s.sendError(conn, s.cat.Get("move.not_player"))
		return
	}
	if color != s.toMoveLocked() {
		s.sendError(conn, s.cat.Get("move.not_your_turn"))
		return
	}

	san, err := s.board.Apply(mv.From, mv.To, mv.Promotion)
	if err != nil {
		s.sendError(conn, s.cat.Get("move.invalid"))
		return
	}

	// The tick loop already charged the mover up to now; resetting here
	// keeps that interval from being charged again to the next side.
	s.lastTick = time.Now()

	go s.persist(s.snapshotLocked())

	env := wire.MustEnvelope(wire.TypeMove, wire.MovePayload{Move: mv})
	if other := s.otherLocked(conn); other != nil {
		s.send(other, env)
	}
	for sp := range s.spectators {
		s.send(sp, env)
	}

	obslog.L().Info("match_move",
		zap.String("match_id", s.id),
		zap.String("color", string(color)),
		zap.String("san", san),
	)

	if over, result, reason := s.board.Terminal(); over {
		s.completeLocked(result, reason)
		return
	}
	s.moveCount++
}

// Abandon ends the session at the request of either player. The
// abandoning identity alone takes the fixed rating penalty.
func (s *Session) Abandon(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	color, ok := s.colorOfLocked(conn)
	if !ok {
		s.sendError(conn, s.cat.Get("move.not_player"))
		return
	}
	if !s.terminateLocked(StatusAbandoned, "", "abandoned") {
		return
	}
	s.abandoned = string(color)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.FinishMatch(ctx, s.snapshotLocked()); err != nil {
		obslog.L().Error("match_persist_error", zap.String("match_id", s.id), zap.Error(err))
	}

	quitterID := s.whiteID
	if color == engine.Black {
		quitterID = s.blackID
	}
	delta, err := s.ratings.Penalize(ctx, quitterID, rating.AbandonPenalty)
	if err != nil {
		obslog.L().Error("rating_penalty_error",
			zap.String("match_id", s.id), zap.String("user_id", quitterID), zap.Error(err))
	}

	env := wire.MustEnvelope(wire.TypeGameAbandoned, wire.GameAbandonedPayload{
		Message:      s.cat.Get("abandon.done"),
		AbandonedBy:  string(color),
		RatingChange: delta,
	})
	s.send(s.white, env)
	s.send(s.black, env)

	obslog.L().Info("match_abandon",
		zap.String("match_id", s.id),
		zap.String("abandoned_by", string(color)),
	)
}

// AddSpectator registers conn and immediately sends it a full snapshot.
func (s *Session) AddSpectator(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectators[conn] = struct{}{}
	s.send(conn, wire.MustEnvelope(wire.TypeSpectate, wire.SpectateSnapshotPayload{
		MatchID:     s.id,
		Position:    s.board.FEN(),
		MoveHistory: s.board.SANHistory(),
	}))
}

// RemoveSpectator is a no-op when conn is not a spectator.
func (s *Session) RemoveSpectator(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spectators, conn)
}

// Rebind swaps the player connection for identity and returns the full
// game state for the reconnect snapshot.
func (s *Session) Rebind(identity string, conn Conn) (wire.GameStatePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var color engine.Color
	switch identity {
	case s.whiteID:
		s.white = conn
		color = engine.White
	case s.blackID:
		s.black = conn
		color = engine.Black
	default:
		return wire.GameStatePayload{}, false
	}
	return wire.GameStatePayload{
		MatchID:     s.id,
		Position:    s.board.FEN(),
		MoveHistory: s.board.SANHistory(),
		Color:       string(color),
		WhiteTime:   clampMs(s.whiteMs),
		BlackTime:   clampMs(s.blackMs),
		CanAbandon:  true,
	}, true
}

// Snapshot builds the persistable match record from current state.
func (s *Session) Snapshot() *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() *Match {
	m := &Match{
		ID:          s.id,
		WhiteID:     s.whiteID,
		BlackID:     s.blackID,
		FEN:         s.board.FEN(),
		MovesUCI:    s.board.UCIHistory(),
		MovesSAN:    s.board.SANHistory(),
		Status:      s.status,
		Result:      s.result,
		Reason:      s.reason,
		AbandonedBy: s.abandoned,
		WhiteTimeMs: clampMs(s.whiteMs),
		BlackTimeMs: clampMs(s.blackMs),
		CreatedAt:   s.createdAt,
		UpdatedAt:   time.Now(),
	}
	if s.status.Terminal() {
		m.EndedAt = m.UpdatedAt
	}
	return m
}

// runClock is the per-session tick loop. It lives exactly as long as the
// session is Active; every terminal path closes stopCh once.
func (s *Session) runClock() {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-t.C:
			if !s.tickOnce(now) {
				return
			}
		}
	}
}

func (s *Session) tickOnce(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return false
	}
	elapsed := now.Sub(s.lastTick).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.lastTick = now

	if s.toMoveLocked() == engine.White {
		s.whiteMs -= elapsed
		if s.whiteMs <= 0 {
			s.completeLocked(string(engine.Black), "timeout")
			return false
		}
	} else {
		s.blackMs -= elapsed
		if s.blackMs <= 0 {
			s.completeLocked(string(engine.White), "timeout")
			return false
		}
	}

	env := wire.MustEnvelope(wire.TypeTimeUpdate, wire.TimeUpdatePayload{
		WhiteTime: clampMs(s.whiteMs),
		BlackTime: clampMs(s.blackMs),
	})
	s.send(s.white, env)
	s.send(s.black, env)
	for sp := range s.spectators {
		s.send(sp, env)
	}
	return true
}

// completeLocked drives the single Completed transition shared by the
// checkmate/draw and timeout paths.
func (s *Session) completeLocked(result, reason string) {
	if !s.terminateLocked(StatusCompleted, result, reason) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.FinishMatch(ctx, s.snapshotLocked()); err != nil {
		obslog.L().Error("match_persist_error", zap.String("match_id", s.id), zap.Error(err))
	}
	if err := s.ratings.ApplyResult(ctx, s.whiteID, s.blackID, result); err != nil {
		obslog.L().Error("rating_update_error", zap.String("match_id", s.id), zap.Error(err))
	}

	env := wire.MustEnvelope(wire.TypeGameOver, wire.GameOverPayload{
		Winner: result,
		Reason: reason,
	})
	s.send(s.white, env)
	s.send(s.black, env)
	for sp := range s.spectators {
		s.send(sp, env)
	}

	obslog.L().Info("match_complete",
		zap.String("match_id", s.id),
		zap.String("winner", result),
		zap.String("reason", reason),
	)
}

// terminateLocked is the one gate out of Active. It returns false when the
// session already left Active, which makes racing termination paths
// (timeout vs checkmate vs abandon) collapse to a single transition.
func (s *Session) terminateLocked(to Status, result, reason string) bool {
	if s.status != StatusActive {
		return false
	}
	s.status = to
	s.result = result
	s.reason = reason
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.onTerminal != nil {
		// Registry removal happens off the session lock to keep the
		// registry→session lock order one-way.
		go s.onTerminal(s)
	}
	return true
}

func (s *Session) toMoveLocked() engine.Color {
	if s.moveCount%2 == 0 {
		return engine.White
	}
	return engine.Black
}

func (s *Session) colorOfLocked(conn Conn) (engine.Color, bool) {
	switch conn {
	case s.white:
		return engine.White, true
	case s.black:
		return engine.Black, true
	default:
		return "", false
	}
}

func (s *Session) otherLocked(conn Conn) Conn {
	if conn == s.white {
		return s.black
	}
	return s.white
}

func (s *Session) persist(m *Match) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.UpsertMatch(ctx, m); err != nil {
		obslog.L().Error("match_persist_error", zap.String("match_id", s.id), zap.Error(err))
	}
}

func (s *Session) sendError(conn Conn, msg string) {
	s.send(conn, wire.MustEnvelope(wire.TypeError, wire.ErrorPayload{Message: msg}))
}

func (s *Session) send(c Conn, env wire.Envelope) {
	if c == nil {
		return
	}
	if err := c.Send(env); err != nil {
		obslog.L().Debug("ws_send_error",
			zap.String("match_id", s.id),
			zap.String("conn_id", c.ID()),
			zap.String("type", env.Type),
			zap.Error(err))
	}
}

func clampMs(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
