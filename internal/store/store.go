package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/obslog"
)

// Store composes the Redis working set with the Postgres archive. Live
// snapshots only touch Redis; terminal transitions additionally write the
// durable row. A failed archive write is logged, not fatal: the Redis
// snapshot already carries the outcome.
type Store struct {
	live *RedisStore
	repo *Repository
}

func New(live *RedisStore, repo *Repository) *Store {
	return &Store{live: live, repo: repo}
}

func (s *Store) UpsertMatch(ctx context.Context, m *game.Match) error {
	return s.live.SaveMatch(ctx, m)
}

func (s *Store) FinishMatch(ctx context.Context, m *game.Match) error {
	if err := s.live.SaveMatch(ctx, m); err != nil {
		return err
	}
	if s.repo != nil {
		if err := s.repo.SaveResult(ctx, m); err != nil {
			obslog.L().Error("archive_write_error",
				zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *Store) FindInProgressByUser(ctx context.Context, userID string) (*game.Match, error) {
	return s.live.FindInProgressByUser(ctx, userID)
}

func (s *Store) MarkAbandoned(ctx context.Context, matchID, abandonedBy string) error {
	m, err := s.live.MarkAbandoned(ctx, matchID, abandonedBy)
	if err != nil {
		return err
	}
	if m != nil && s.repo != nil {
		if err := s.repo.SaveResult(ctx, m); err != nil {
			obslog.L().Error("archive_write_error",
				zap.String("match_id", m.ID), zap.Error(err))
		}
	}
	return nil
}
