package game

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/rating"
	"github.com/quietpawn/arena/pkg/wire"
)

type fakeConn struct {
	id       string
	identity string

	mu     sync.Mutex
	frames []wire.Envelope
	closed bool
}

func newFakeConn(id, identity string) *fakeConn {
	return &fakeConn{id: id, identity: identity}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) Identity() string { return c.identity }

func (c *fakeConn) Send(env wire.Envelope) error {
	c.mu.Lock()
	c.frames = append(c.frames, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close(string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) all() []wire.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Envelope(nil), c.frames...)
}

func (c *fakeConn) count(msgType string) int {
	n := 0
	for _, f := range c.all() {
		if f.Type == msgType {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(msgType string) (wire.Envelope, bool) {
	frames := c.all()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Type == msgType {
			return frames[i], true
		}
	}
	return wire.Envelope{}, false
}

func decodePayload[T any](t *testing.T, env wire.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}

type fakeStore struct {
	mu       sync.Mutex
	upserts  []*Match
	finished []*Match
}

func (s *fakeStore) UpsertMatch(_ context.Context, m *Match) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, m)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) FinishMatch(_ context.Context, m *Match) error {
	s.mu.Lock()
	s.finished = append(s.finished, m)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) lastFinished() *Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finished) == 0 {
		return nil
	}
	return s.finished[len(s.finished)-1]
}

type fakeRatings struct {
	mu        sync.Mutex
	results   []string
	penalized []string
}

func (r *fakeRatings) ApplyResult(_ context.Context, whiteID, blackID, result string) error {
	r.mu.Lock()
	r.results = append(r.results, whiteID+"/"+blackID+"/"+result)
	r.mu.Unlock()
	return nil
}

func (r *fakeRatings) Penalize(_ context.Context, userID string, points int) (int, error) {
	r.mu.Lock()
	r.penalized = append(r.penalized, userID)
	r.mu.Unlock()
	return -points, nil
}

func testCatalog(t *testing.T) *msgcat.Catalog {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat.New: %v", err)
	}
	return cat
}

type fixture struct {
	registry *Registry
	store    *fakeStore
	ratings  *fakeRatings
	factory  *Factory
	white    *fakeConn
	black    *fakeConn
	session  *Session
}

func newFixture(t *testing.T, timeControlMs int64, tick time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		registry: NewRegistry(),
		store:    &fakeStore{},
		ratings:  &fakeRatings{},
		white:    newFakeConn("c-white", "alice"),
		black:    newFakeConn("c-black", "bob"),
	}
	f.factory = &Factory{
		Registry:      f.registry,
		Store:         f.store,
		Ratings:       f.ratings,
		Catalog:       testCatalog(t),
		TimeControlMs: timeControlMs,
		TickInterval:  tick,
	}
	f.session = f.factory.Create(f.white, f.black)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateNotifiesBothPlayers(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	wEnv, ok := f.white.last(wire.TypeInitGame)
	if !ok {
		t.Fatalf("white got no INIT_GAME")
	}
	bEnv, ok := f.black.last(wire.TypeInitGame)
	if !ok {
		t.Fatalf("black got no INIT_GAME")
	}
	wp := decodePayload[wire.MatchFoundPayload](t, wEnv)
	bp := decodePayload[wire.MatchFoundPayload](t, bEnv)
	if wp.Color != "white" || bp.Color != "black" {
		t.Fatalf("colors not complementary: %q vs %q", wp.Color, bp.Color)
	}
	if wp.MatchID == "" || wp.MatchID != bp.MatchID {
		t.Fatalf("matchId mismatch: %q vs %q", wp.MatchID, bp.MatchID)
	}
	if f.registry.Get(wp.MatchID) != f.session {
		t.Fatalf("session not registered under its id")
	}
}

func TestTurnViolationRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	before := f.session.Snapshot()
	f.session.ApplyMove(f.black, wire.Move{From: "e7", To: "e5"})

	if _, ok := f.black.last(wire.TypeError); !ok {
		t.Fatalf("expected ERROR for out-of-turn move")
	}
	after := f.session.Snapshot()
	if after.FEN != before.FEN || len(after.MovesUCI) != 0 {
		t.Fatalf("out-of-turn move mutated the position")
	}
	if f.white.count(wire.TypeMove) != 0 {
		t.Fatalf("rejected move was broadcast")
	}
}

func TestNonPlayerMoveRejected(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	stranger := newFakeConn("c-x", "mallory")
	f.session.ApplyMove(stranger, wire.Move{From: "e2", To: "e4"})
	if _, ok := stranger.last(wire.TypeError); !ok {
		t.Fatalf("expected ERROR for non-player connection")
	}
	if got := f.session.Snapshot(); len(got.MovesUCI) != 0 {
		t.Fatalf("stranger's move applied")
	}
}

func TestLegalMoveBroadcastsToOpponentAndSpectators(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)
	spec := newFakeConn("c-spec", "carol")
	f.session.AddSpectator(spec)

	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e4"})

	for _, c := range []*fakeConn{f.black, spec} {
		env, ok := c.last(wire.TypeMove)
		if !ok {
			t.Fatalf("%s got no MOVE broadcast", c.id)
		}
		p := decodePayload[wire.MovePayload](t, env)
		if p.Move.From != "e2" || p.Move.To != "e4" {
			t.Fatalf("unexpected broadcast move: %+v", p.Move)
		}
	}
	// The mover is not echoed its own move.
	if f.white.count(wire.TypeMove) != 0 {
		t.Fatalf("move echoed to the mover")
	}
	if got := f.session.Snapshot(); len(got.MovesUCI) != 1 {
		t.Fatalf("expected 1 applied move, got %d", len(got.MovesUCI))
	}
}

func TestIllegalMoveRejected(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e5"})
	if _, ok := f.white.last(wire.TypeError); !ok {
		t.Fatalf("expected ERROR for illegal move")
	}
	if got := f.session.Snapshot(); len(got.MovesUCI) != 0 {
		t.Fatalf("illegal move applied")
	}
}

func TestMoveParityTracksEngineTurn(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	moves := []struct {
		conn *fakeConn
		mv   wire.Move
	}{
		{f.white, wire.Move{From: "e2", To: "e4"}},
		{f.black, wire.Move{From: "e7", To: "e5"}},
		{f.white, wire.Move{From: "g1", To: "f3"}},
		{f.black, wire.Move{From: "b8", To: "c6"}},
	}
	for i, m := range moves {
		f.session.ApplyMove(m.conn, m.mv)
		snap := f.session.Snapshot()
		if len(snap.MovesUCI) != i+1 {
			t.Fatalf("move %d not applied", i)
		}
		sideToMove := "w"
		if len(snap.MovesUCI)%2 == 1 {
			sideToMove = "b"
		}
		if !strings.Contains(snap.FEN, " "+sideToMove+" ") {
			t.Fatalf("parity/engine divergence after move %d: fen=%q", i, snap.FEN)
		}
	}
}

func TestCheckmateCompletesSession(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)
	spec := newFakeConn("c-spec", "carol")
	f.session.AddSpectator(spec)

	f.session.ApplyMove(f.white, wire.Move{From: "f2", To: "f3"})
	f.session.ApplyMove(f.black, wire.Move{From: "e7", To: "e5"})
	f.session.ApplyMove(f.white, wire.Move{From: "g2", To: "g4"})
	f.session.ApplyMove(f.black, wire.Move{From: "d8", To: "h4"})

	for _, c := range []*fakeConn{f.white, f.black, spec} {
		env, ok := c.last(wire.TypeGameOver)
		if !ok {
			t.Fatalf("%s got no GAME_OVER", c.id)
		}
		p := decodePayload[wire.GameOverPayload](t, env)
		if p.Winner != "black" || p.Reason != "checkmate" {
			t.Fatalf("unexpected GAME_OVER: %+v", p)
		}
	}
	if f.session.Status() != StatusCompleted {
		t.Fatalf("status = %s, want Completed", f.session.Status())
	}
	fin := f.store.lastFinished()
	if fin == nil || fin.Status != StatusCompleted || fin.Result != "black" {
		t.Fatalf("terminal snapshot not persisted: %+v", fin)
	}
	f.ratings.mu.Lock()
	results := append([]string(nil), f.ratings.results...)
	f.ratings.mu.Unlock()
	if len(results) != 1 || results[0] != "alice/bob/black" {
		t.Fatalf("unexpected rating invocation: %v", results)
	}
	waitFor(t, "registry drop", func() bool { return f.registry.Len() == 0 })
}

func TestTimeoutCompletesOnceAndStopsTicking(t *testing.T) {
	f := newFixture(t, 60, 5*time.Millisecond)

	// White moves so it is black to move when the clock runs out.
	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e4"})

	waitFor(t, "GAME_OVER", func() bool { return f.white.count(wire.TypeGameOver) > 0 })

	env, _ := f.white.last(wire.TypeGameOver)
	p := decodePayload[wire.GameOverPayload](t, env)
	if p.Winner != "white" || p.Reason != "timeout" {
		t.Fatalf("unexpected GAME_OVER: %+v", p)
	}
	if f.session.Status() != StatusCompleted {
		t.Fatalf("status = %s, want Completed", f.session.Status())
	}
	if n := f.white.count(wire.TypeGameOver); n != 1 {
		t.Fatalf("GAME_OVER sent %d times", n)
	}

	// No TIME_UPDATE may trail the GAME_OVER, and ticking must stop.
	frames := f.black.all()
	for i, fr := range frames {
		if fr.Type == wire.TypeGameOver {
			for _, later := range frames[i+1:] {
				if later.Type == wire.TypeTimeUpdate {
					t.Fatalf("TIME_UPDATE after GAME_OVER")
				}
			}
		}
	}
	before := f.black.count(wire.TypeTimeUpdate)
	time.Sleep(50 * time.Millisecond)
	if after := f.black.count(wire.TypeTimeUpdate); after != before {
		t.Fatalf("clock still ticking after termination: %d -> %d", before, after)
	}
}

func TestBroadcastClocksNeverNegative(t *testing.T) {
	f := newFixture(t, 40, 5*time.Millisecond)

	waitFor(t, "GAME_OVER", func() bool { return f.white.count(wire.TypeGameOver) > 0 })

	for _, c := range []*fakeConn{f.white, f.black} {
		for _, fr := range c.all() {
			if fr.Type != wire.TypeTimeUpdate {
				continue
			}
			p := decodePayload[wire.TimeUpdatePayload](t, fr)
			if p.WhiteTime < 0 || p.BlackTime < 0 {
				t.Fatalf("negative clock broadcast: %+v", p)
			}
		}
	}
}

func TestAbandonPenalizesOnlyQuitter(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	f.session.Abandon(f.white)

	for _, c := range []*fakeConn{f.white, f.black} {
		env, ok := c.last(wire.TypeGameAbandoned)
		if !ok {
			t.Fatalf("%s got no GAME_ABANDONED", c.id)
		}
		p := decodePayload[wire.GameAbandonedPayload](t, env)
		if p.AbandonedBy != "white" || p.RatingChange != -rating.AbandonPenalty {
			t.Fatalf("unexpected GAME_ABANDONED: %+v", p)
		}
	}
	if f.session.Status() != StatusAbandoned {
		t.Fatalf("status = %s, want Abandoned", f.session.Status())
	}
	f.ratings.mu.Lock()
	penalized := append([]string(nil), f.ratings.penalized...)
	results := len(f.ratings.results)
	f.ratings.mu.Unlock()
	if len(penalized) != 1 || penalized[0] != "alice" {
		t.Fatalf("penalty applied to %v, want [alice]", penalized)
	}
	if results != 0 {
		t.Fatalf("Elo update ran on abandonment")
	}
	fin := f.store.lastFinished()
	if fin == nil || fin.Status != StatusAbandoned || fin.AbandonedBy != "white" {
		t.Fatalf("abandoned snapshot not persisted: %+v", fin)
	}
	waitFor(t, "registry drop", func() bool { return f.registry.Len() == 0 })
}

func TestTerminalStateIsFinal(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)

	f.session.Abandon(f.black)
	if f.session.Status() != StatusAbandoned {
		t.Fatalf("status = %s, want Abandoned", f.session.Status())
	}

	// A second termination attempt of either kind changes nothing.
	f.session.Abandon(f.white)
	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e4"})

	if f.session.Status() != StatusAbandoned {
		t.Fatalf("terminal state left: %s", f.session.Status())
	}
	if n := f.white.count(wire.TypeGameAbandoned); n != 1 {
		t.Fatalf("GAME_ABANDONED sent %d times", n)
	}
	if n := f.white.count(wire.TypeGameOver); n != 0 {
		t.Fatalf("GAME_OVER sent after abandonment")
	}
}

func TestRebindSwapsConnection(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)
	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e4"})

	fresh := newFakeConn("c-white-2", "alice")
	state, ok := f.session.Rebind("alice", fresh)
	if !ok {
		t.Fatalf("Rebind failed for a player identity")
	}
	if state.Color != "white" || !state.CanAbandon {
		t.Fatalf("unexpected snapshot: %+v", state)
	}
	if len(state.MoveHistory) != 1 || state.MoveHistory[0] != "e4" {
		t.Fatalf("unexpected move history: %v", state.MoveHistory)
	}

	// The stale connection no longer counts as a player.
	f.session.ApplyMove(f.black, wire.Move{From: "e7", To: "e5"})
	f.session.ApplyMove(f.white, wire.Move{From: "d2", To: "d4"})
	if _, ok := f.white.last(wire.TypeError); !ok {
		t.Fatalf("stale connection still accepted as player")
	}
	f.session.ApplyMove(fresh, wire.Move{From: "d2", To: "d4"})
	if got := f.session.Snapshot(); len(got.MovesUCI) != 3 {
		t.Fatalf("rebound connection's move not applied: %v", got.MovesUCI)
	}

	if _, ok := f.session.Rebind("mallory", newFakeConn("c-m", "mallory")); ok {
		t.Fatalf("Rebind accepted a non-player identity")
	}
}

func TestSpectatorSnapshotAndRemoval(t *testing.T) {
	f := newFixture(t, 600_000, time.Hour)
	f.session.ApplyMove(f.white, wire.Move{From: "e2", To: "e4"})

	spec := newFakeConn("c-spec", "carol")
	f.session.AddSpectator(spec)

	env, ok := spec.last(wire.TypeSpectate)
	if !ok {
		t.Fatalf("spectator got no snapshot")
	}
	p := decodePayload[wire.SpectateSnapshotPayload](t, env)
	if p.MatchID != f.session.ID() || len(p.MoveHistory) != 1 {
		t.Fatalf("unexpected snapshot: %+v", p)
	}

	f.session.RemoveSpectator(spec)
	f.session.ApplyMove(f.black, wire.Move{From: "e7", To: "e5"})
	if spec.count(wire.TypeMove) != 0 {
		t.Fatalf("removed spectator still receives broadcasts")
	}
	// Removing twice is a no-op.
	f.session.RemoveSpectator(spec)
}
