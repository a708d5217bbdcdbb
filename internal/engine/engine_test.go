package engine

import (
	"errors"
	"testing"
)

func TestApplyLegalMove(t *testing.T) {
	b := NewBoard()
	if b.Turn() != White {
		t.Fatalf("expected white to move first")
	}
	san, err := b.Apply("e2", "e4", "")
	if err != nil {
		t.Fatalf("Apply e2e4: %v", err)
	}
	if san != "e4" {
		t.Fatalf("unexpected SAN %q", san)
	}
	if b.Turn() != Black {
		t.Fatalf("expected black to move after e4")
	}
	if got := b.UCIHistory(); len(got) != 1 || got[0] != "e2e4" {
		t.Fatalf("unexpected UCI history %v", got)
	}
}

func TestApplyIllegalMove(t *testing.T) {
	b := NewBoard()
	if _, err := b.Apply("e2", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	// Rejection must not mutate the position.
	if b.Turn() != White {
		t.Fatalf("turn changed after rejected move")
	}
	if len(b.SANHistory()) != 0 {
		t.Fatalf("history grew after rejected move")
	}
}

func TestWrongSideMoveRejected(t *testing.T) {
	b := NewBoard()
	// Black piece while white is to move.
	if _, err := b.Apply("e7", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove for out-of-turn piece, got %v", err)
	}
}

func TestFoolsMateTerminal(t *testing.T) {
	b := NewBoard()
	moves := [][2]string{{"f2", "f3"}, {"e7", "e5"}, {"g2", "g4"}, {"d8", "h4"}}
	for _, mv := range moves {
		if _, err := b.Apply(mv[0], mv[1], ""); err != nil {
			t.Fatalf("Apply %v: %v", mv, err)
		}
	}
	over, winner, reason := b.Terminal()
	if !over {
		t.Fatalf("expected terminal position")
	}
	if winner != "black" || reason != "checkmate" {
		t.Fatalf("unexpected result winner=%q reason=%q", winner, reason)
	}
}

func TestTerminalFalseMidGame(t *testing.T) {
	b := NewBoard()
	if _, err := b.Apply("e2", "e4", ""); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if over, _, _ := b.Terminal(); over {
		t.Fatalf("unexpected terminal mid-game")
	}
}
