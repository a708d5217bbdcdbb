package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/rating"
)

// Repository is the Postgres side: durable final match rows and player
// ratings. It satisfies rating.Repo.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS arena_matches (
    match_id     TEXT PRIMARY KEY,
    white_id     TEXT NOT NULL,
    black_id     TEXT NOT NULL,
    status       TEXT NOT NULL,
    result       TEXT,
    reason       TEXT,
    abandoned_by TEXT,
    moves_uci    TEXT,
    moves_san    TEXT,
    pgn          TEXT,
    started_at   TIMESTAMPTZ,
    ended_at     TIMESTAMPTZ,
    duration_ms  BIGINT
);
CREATE TABLE IF NOT EXISTS arena_ratings (
    user_id    TEXT PRIMARY KEY,
    rating     INTEGER NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

// SaveResult upserts a terminal match row.
func (r *Repository) SaveResult(ctx context.Context, m *game.Match) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}

	pgn := buildPGN(m)
	movesUCIRaw, _ := json.Marshal(m.MovesUCI)
	movesSANRaw, _ := json.Marshal(m.MovesSAN)
	ended := m.EndedAt
	if ended.IsZero() {
		ended = m.UpdatedAt
	}
	duration := ended.Sub(m.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	const q = `INSERT INTO arena_matches (
	    match_id, white_id, black_id,
	    status, result, reason, abandoned_by,
	    moves_uci, moves_san, pgn,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	  ) ON CONFLICT (match_id) DO UPDATE SET
	    white_id=EXCLUDED.white_id,
	    black_id=EXCLUDED.black_id,
	    status=EXCLUDED.status,
	    result=EXCLUDED.result,
	    reason=EXCLUDED.reason,
	    abandoned_by=EXCLUDED.abandoned_by,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		m.ID, m.WhiteID, m.BlackID,
		string(m.Status), m.Result, m.Reason, m.AbandonedBy,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		m.CreatedAt, ended, duration,
	)
	return err
}

// GetRating reads an identity's rating, defaulting unknown identities.
func (r *Repository) GetRating(ctx context.Context, userID string) (int, error) {
	var v int
	err := r.db.QueryRowContext(ctx,
		`SELECT rating FROM arena_ratings WHERE user_id = $1`, userID).Scan(&v)
	if err == sql.ErrNoRows {
		return rating.DefaultRating, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (r *Repository) SetRating(ctx context.Context, userID string, v int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO arena_ratings (user_id, rating, updated_at)
	  VALUES ($1, $2, now())
	  ON CONFLICT (user_id) DO UPDATE SET rating=EXCLUDED.rating, updated_at=now()`,
		userID, v)
	return err
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(m *game.Match) string {
	if m == nil {
		return ""
	}
	pgnResult := mapResultToPGN(m.Result)
	var b strings.Builder
	date := m.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(m.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(m.BlackID)))
	if strings.TrimSpace(m.Reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(m.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(m.MovesSAN[i])))
		if i+1 < len(m.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(m.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
