package profile

import (
	"context"
	"errors"

	"github.com/park285/cheese-arena/internal/rating"
)

// Counter is a win/loss/draw column of a profile.
type Counter string

const (
	Wins   Counter = "wins"
	Losses Counter = "losses"
	Draws  Counter = "draws"
)

var ErrUnknownCounter = errors.New("unknown profile counter")

// Profile is a player's rating record.
type Profile struct {
	UserID string
	Rating int
	Wins   int
	Losses int
	Draws  int
}

// Outcome is a finished match to be applied to both players' profiles.
// Score is from Player1's perspective.
type Outcome struct {
	RoomID  string
	Player1 string
	Player2 string
	Score   rating.Score
	Delta1  int
	Delta2  int
}

// Counters returns the counter each player's record gains.
func (o Outcome) Counters() (p1, p2 Counter) {
	switch o.Score {
	case rating.Win:
		return Wins, Losses
	case rating.Loss:
		return Losses, Wins
	default:
		return Draws, Draws
	}
}

// Repository is the persistent profile store. Unknown users are created lazily with
// the default rating.
type Repository interface {
	GetRating(ctx context.Context, userID string) (int, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	ApplyRatingDelta(ctx context.Context, userID string, delta int) error
	IncrementCounter(ctx context.Context, userID string, kind Counter) error
	// ApplyOutcome writes both players' deltas and counters together.
	ApplyOutcome(ctx context.Context, o Outcome) error
	Close() error
}
