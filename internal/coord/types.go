package coord

import (
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-arena/internal/timecontrol"
)

// QueueEntry is a player waiting in a matchmaking queue. The queue is keyed by UserID,
// so joining twice replaces the entry instead of duplicating it.
type QueueEntry struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Rating   int       `json:"rating"`
	ConnID   string    `json:"conn_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Challenge is a pending friend invitation stored under its code.
type Challenge struct {
	Code        string            `json:"code"`
	CreatorID   string            `json:"creator_id"`
	CreatorName string            `json:"creator_name"`
	CreatorConn string            `json:"creator_conn"`
	Class       timecontrol.Class `json:"index"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Code namespace kinds stored as the reservation value.
const (
	KindRoom      = "room"
	KindChallenge = "challenge"
)

var (
	ErrCodeExhausted = errors.New("failed to allocate unique code")
	ErrNotQueued     = errors.New("player no longer queued")
	ErrChallengeGone = errors.New("challenge not found")
	ErrClaimConflict = errors.New("claim kept conflicting with concurrent updates")
)

// AlreadyPlayingError reports that UserID is mapped to RoomID.
type AlreadyPlayingError struct {
	UserID string
	RoomID string
}

func (e *AlreadyPlayingError) Error() string {
	return fmt.Sprintf("user %s already playing in room %s", e.UserID, e.RoomID)
}
