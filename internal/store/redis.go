// Package store persists match state: Redis carries the live working-set
// snapshots that reconnects resolve against, Postgres keeps the durable
// final rows and player ratings.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quietpawn/arena/internal/game"
)

// ttlMatch bounds how long a live snapshot survives without being
// finished. This is the same horizon the resolver uses to call a stored
// match stale.
const ttlMatch = 24 * time.Hour

// RedisStore keeps one JSON snapshot per match plus a per-user index
// pointing at the user's in-progress match.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) keyMatch(id string) string    { return "arena:match:" + strings.TrimSpace(id) }
func (s *RedisStore) keyUserIdx(user string) string {
	return "arena:index:user:" + strings.TrimSpace(user)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SaveMatch writes the snapshot and refreshes both players' index
// entries. Terminal snapshots keep the match key (history stays readable
// until TTL) but drop the indexes so the match no longer resolves as
// in-progress.
func (s *RedisStore) SaveMatch(ctx context.Context, m *game.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyMatch(m.ID), raw, ttlMatch).Err(); err != nil {
		return err
	}
	if m.Status.Terminal() {
		return s.dropIndexes(ctx, m)
	}
	for _, user := range []string{m.WhiteID, m.BlackID} {
		if strings.TrimSpace(user) == "" {
			continue
		}
		if err := s.rdb.Set(ctx, s.keyUserIdx(user), m.ID, ttlMatch).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisStore) LoadMatch(ctx context.Context, id string) (*game.Match, error) {
	raw, err := s.rdb.Get(ctx, s.keyMatch(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m game.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindInProgressByUser returns the user's active match snapshot, or nil
// when the index is empty or points at a finished match.
func (s *RedisStore) FindInProgressByUser(ctx context.Context, userID string) (*game.Match, error) {
	id, err := s.rdb.Get(ctx, s.keyUserIdx(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := s.LoadMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Status.Terminal() {
		// Stale index entry; drop it so the next lookup is a miss.
		_ = s.rdb.Del(ctx, s.keyUserIdx(userID)).Err()
		return nil, nil
	}
	return m, nil
}

// MarkAbandoned transitions a stored match to ABANDONED and returns the
// updated record. Missing and already-terminal matches return nil without
// error.
func (s *RedisStore) MarkAbandoned(ctx context.Context, matchID, abandonedBy string) (*game.Match, error) {
	m, err := s.LoadMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.Status.Terminal() {
		return nil, nil
	}
	now := time.Now()
	m.Status = game.StatusAbandoned
	m.Reason = "abandoned"
	m.AbandonedBy = abandonedBy
	m.UpdatedAt = now
	m.EndedAt = now
	if err := s.SaveMatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *RedisStore) dropIndexes(ctx context.Context, m *game.Match) error {
	for _, user := range []string{m.WhiteID, m.BlackID} {
		if strings.TrimSpace(user) == "" {
			continue
		}
		// Only clear an index still pointing at this match; the user may
		// already be in a newer one.
		cur, err := s.rdb.Get(ctx, s.keyUserIdx(user)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}
		if cur == m.ID {
			if err := s.rdb.Del(ctx, s.keyUserIdx(user)).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
