// Package wire defines the message envelope exchanged over the player
// websocket and the closed set of payload shapes, one per message type.
// Payloads are decoded and validated here, at the boundary, before any
// session logic sees them.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message types. Client→server unless noted; several are reused in both
// directions with a direction-specific payload.
const (
	TypeInitGame      = "INIT_GAME"
	TypeWaiting       = "WAITING"
	TypeMove          = "MOVE"
	TypeGameState     = "GAME_STATE"
	TypeTimeUpdate    = "TIME_UPDATE"
	TypeGameOver      = "GAME_OVER"
	TypeAbandonGame   = "ABANDON_GAME"
	TypeGameAbandoned = "GAME_ABANDONED"
	TypeSpectate      = "SPECTATE"
	TypeError         = "ERROR"
)

var ErrBadPayload = errors.New("malformed payload")

// Envelope is the frame shape on the wire: {type, payload}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
// Marshal failures are programming errors; they surface as an error so the
// caller can log instead of sending a half-built frame.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payload structs defined in this package,
// which cannot fail to marshal.
func MustEnvelope(msgType string, payload any) Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Move is a single candidate move in coordinate form. Promotion is
// optional; an empty value on a promoting move defaults to queen.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MovePayload carries a move in both directions: the client's candidate
// and the server's broadcast of the accepted move.
type MovePayload struct {
	Move Move `json:"move"`
}

// MatchFoundPayload is the server→client INIT_GAME reply.
type MatchFoundPayload struct {
	Color   string `json:"color"`
	MatchID string `json:"matchId"`
}

type WaitingPayload struct {
	Message string `json:"message"`
}

// GameStatePayload is the full snapshot sent on (re)connection.
type GameStatePayload struct {
	MatchID     string   `json:"matchId"`
	Position    string   `json:"position"`
	MoveHistory []string `json:"moveHistory"`
	Color       string   `json:"color"`
	WhiteTime   int64    `json:"whiteTime"`
	BlackTime   int64    `json:"blackTime"`
	CanAbandon  bool     `json:"canAbandon"`
}

type TimeUpdatePayload struct {
	WhiteTime int64 `json:"whiteTime"`
	BlackTime int64 `json:"blackTime"`
}

type GameOverPayload struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

type GameAbandonedPayload struct {
	Message      string `json:"message"`
	AbandonedBy  string `json:"abandonedBy,omitempty"`
	RatingChange int    `json:"ratingChange,omitempty"`
}

// SpectateRequestPayload is the client→server SPECTATE payload.
type SpectateRequestPayload struct {
	MatchID string `json:"matchId"`
}

// SpectateSnapshotPayload is the server→client SPECTATE reply sent to a
// newly added spectator.
type SpectateSnapshotPayload struct {
	MatchID     string   `json:"matchId"`
	Position    string   `json:"position"`
	MoveHistory []string `json:"moveHistory"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeMove validates and decodes a client MOVE payload.
func DecodeMove(raw json.RawMessage) (Move, error) {
	var p MovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Move{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	p.Move.From = strings.ToLower(strings.TrimSpace(p.Move.From))
	p.Move.To = strings.ToLower(strings.TrimSpace(p.Move.To))
	p.Move.Promotion = strings.ToLower(strings.TrimSpace(p.Move.Promotion))
	if !validSquare(p.Move.From) || !validSquare(p.Move.To) {
		return Move{}, fmt.Errorf("%w: bad square", ErrBadPayload)
	}
	switch p.Move.Promotion {
	case "", "q", "r", "b", "n":
	default:
		return Move{}, fmt.Errorf("%w: bad promotion piece", ErrBadPayload)
	}
	return p.Move, nil
}

// DecodeSpectate validates and decodes a client SPECTATE payload.
func DecodeSpectate(raw json.RawMessage) (string, error) {
	var p SpectateRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	id := strings.TrimSpace(p.MatchID)
	if id == "" {
		return "", fmt.Errorf("%w: missing matchId", ErrBadPayload)
	}
	return id, nil
}

func validSquare(s string) bool {
	if len(s) != 2 {
		return false
	}
	return s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
