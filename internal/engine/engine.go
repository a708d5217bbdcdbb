// Package engine adapts the chess rule library behind the small surface
// the match session needs: apply a candidate move, report whose turn it
// is, and report terminal status. The session never touches the library
// directly, so the board representation stays swappable.
package engine

import (
	"errors"

	nchess "github.com/corentings/chess/v2"
)

var ErrIllegalMove = errors.New("illegal move")

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Board owns one game's position and move history.
type Board struct {
	game    *nchess.Game
	uciHist []string
	sanHist []string
}

func NewBoard() *Board {
	return &Board{game: nchess.NewGame()}
}

// Turn reports the side to move at the current position.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == nchess.White {
		return White
	}
	return Black
}

// Apply validates and plays a coordinate move. A promoting move with no
// promotion piece defaults to queen. Returns the SAN encoding of the
// accepted move; the position is unchanged on rejection.
func (b *Board) Apply(from, to, promotion string) (string, error) {
	pos := b.game.Position()
	uci := from + to + promotion
	notation := nchess.UCINotation{}
	mv, err := notation.Decode(pos, uci)
	if err != nil && promotion == "" {
		mv, err = notation.Decode(pos, uci+"q")
	}
	if err != nil {
		return "", ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := b.game.Move(mv, nil); err != nil {
		return "", ErrIllegalMove
	}
	b.uciHist = append(b.uciHist, mv.String())
	b.sanHist = append(b.sanHist, san)
	return san, nil
}

// Terminal reports whether the game is over, with result "white", "black"
// or "draw" and reason "checkmate" or "draw". Clock expiry is not the
// board's business; the session layers timeout on top.
func (b *Board) Terminal() (bool, string, string) {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return true, string(White), reasonFor(b.game.Method())
	case nchess.BlackWon:
		return true, string(Black), reasonFor(b.game.Method())
	case nchess.Draw:
		return true, "draw", "draw"
	default:
		return false, "", ""
	}
}

func reasonFor(method nchess.Method) string {
	if method == nchess.Checkmate {
		return "checkmate"
	}
	return "draw"
}

// FEN serializes the current position.
func (b *Board) FEN() string { return b.game.FEN() }

// SANHistory returns the move list in algebraic notation.
func (b *Board) SANHistory() []string {
	return append([]string(nil), b.sanHist...)
}

// UCIHistory returns the move list in coordinate notation.
func (b *Board) UCIHistory() []string {
	return append([]string(nil), b.uciHist...)
}
