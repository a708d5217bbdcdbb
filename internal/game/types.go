// Package game holds the authoritative state for live matches: the match
// session state machine, its clock loop, and the session registry.
package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quietpawn/arena/pkg/wire"
)

// Status is a match lifecycle state. Terminal states are final.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusAbandoned Status = "ABANDONED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Match is the persisted snapshot of a session: the working-set record
// written on every accepted move and finalized on termination. Live
// sessions are the authority while they exist; this record is what
// survives them.
type Match struct {
	ID          string    `json:"id"`
	WhiteID     string    `json:"white_id"`
	BlackID     string    `json:"black_id"`
	FEN         string    `json:"fen"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	AbandonedBy string    `json:"abandoned_by,omitempty"`
	WhiteTimeMs int64     `json:"white_time_ms"`
	BlackTimeMs int64     `json:"black_time_ms"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
}

// Conn is a live player or spectator channel. Sessions hold replaceable
// references, never ownership: reconnection swaps the reference while the
// session keeps running.
type Conn interface {
	ID() string
	Identity() string
	Send(env wire.Envelope) error
	Close(reason string) error
}

// Store persists match snapshots. Calls are best-effort from the
// session's perspective; failures are logged and play continues.
type Store interface {
	UpsertMatch(ctx context.Context, m *Match) error
	FinishMatch(ctx context.Context, m *Match) error
}

// Ratings applies post-game rating adjustments.
type Ratings interface {
	ApplyResult(ctx context.Context, whiteID, blackID, result string) error
	Penalize(ctx context.Context, userID string, points int) (int, error)
}

// NewMatchID builds a timestamp-plus-random-suffix identifier. Uniqueness
// is best-effort, not guaranteed under adversarial conditions.
func NewMatchID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), randSuffix(3))
}

func randSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
	}
	return hex.EncodeToString(b)
}
