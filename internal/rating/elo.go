package rating

import "math"

// KFactor is the maximum rating swing of a single game.
const KFactor = 32

// Score is a game result from one player's perspective.
type Score float64

const (
	Loss Score = 0
	Draw Score = 0.5
	Win  Score = 1
)

// Valid reports whether s is one of Loss, Draw, Win.
func (s Score) Valid() bool { return s == Loss || s == Draw || s == Win }

// Invert returns the opponent's score.
func (s Score) Invert() Score { return 1 - s }

// Expected is the logistic expected score of a player rated a against b.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// ComputeDeltas returns the rating changes of A and B after A scored score against B.
func ComputeDeltas(score Score, ratingA, ratingB int) (deltaA, deltaB int) {
	expA := Expected(ratingA, ratingB)
	expB := Expected(ratingB, ratingA)
	deltaA = int(math.Round(KFactor * (float64(score) - expA)))
	deltaB = int(math.Round(KFactor * (float64(score.Invert()) - expB)))
	return deltaA, deltaB
}
