// Package rating computes Elo updates from terminal match results and
// persists them through a small repository interface.
package rating

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/quietpawn/arena/internal/obslog"
)

const (
	DefaultRating = 1200
	kFactor       = 32

	// AbandonPenalty is the flat deduction applied to the abandoning
	// player only.
	AbandonPenalty = 20
)

// Repo reads and writes a single identity's rating. Missing identities
// get DefaultRating on first read.
type Repo interface {
	GetRating(ctx context.Context, userID string) (int, error)
	SetRating(ctx context.Context, userID string, rating int) error
}

// Expected returns the Elo expected score for a player rated own against
// an opponent rated opp.
func Expected(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

// Update returns both players' new ratings for result "white", "black" or
// "draw".
func Update(white, black int, result string) (int, int) {
	var whiteScore float64
	switch result {
	case "white":
		whiteScore = 1
	case "black":
		whiteScore = 0
	default:
		whiteScore = 0.5
	}
	expWhite := Expected(white, black)
	newWhite := int(math.Round(float64(white) + kFactor*(whiteScore-expWhite)))
	newBlack := int(math.Round(float64(black) + kFactor*((1-whiteScore)-(1-expWhite))))
	return newWhite, newBlack
}

type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// ApplyResult updates both ratings for a decided or drawn match. Either
// read failing aborts the whole update; there is no partial write.
func (s *Service) ApplyResult(ctx context.Context, whiteID, blackID, result string) error {
	white, err := s.repo.GetRating(ctx, whiteID)
	if err != nil {
		return fmt.Errorf("read white rating: %w", err)
	}
	black, err := s.repo.GetRating(ctx, blackID)
	if err != nil {
		return fmt.Errorf("read black rating: %w", err)
	}
	newWhite, newBlack := Update(white, black, result)
	if err := s.repo.SetRating(ctx, whiteID, newWhite); err != nil {
		return fmt.Errorf("write white rating: %w", err)
	}
	if err := s.repo.SetRating(ctx, blackID, newBlack); err != nil {
		return fmt.Errorf("write black rating: %w", err)
	}
	obslog.L().Info("rating_update",
		zap.String("white_id", whiteID),
		zap.Int("white_rating", newWhite),
		zap.String("black_id", blackID),
		zap.Int("black_rating", newBlack),
		zap.String("result", result),
	)
	return nil
}

// Penalize deducts points from one identity's rating and returns the
// applied delta.
func (s *Service) Penalize(ctx context.Context, userID string, points int) (int, error) {
	cur, err := s.repo.GetRating(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("read rating: %w", err)
	}
	if err := s.repo.SetRating(ctx, userID, cur-points); err != nil {
		return 0, fmt.Errorf("write rating: %w", err)
	}
	return -points, nil
}
