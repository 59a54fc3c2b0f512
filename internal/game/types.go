package game

import (
	"errors"
	"time"

	"github.com/park285/cheese-arena/internal/rating"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomExists     = errors.New("room already exists")
	ErrNotParticipant = errors.New("not a participant of this room")
	ErrInvalidMove    = errors.New("invalid move")
	ErrGameOver       = errors.New("game is over")
	ErrArenaClosed    = errors.New("arena is shut down")
)

// Notifier delivers server events to connections. Implementations must not block.
type Notifier interface {
	Send(connID, event string, payload any)
	Broadcast(event string, payload any)
	BroadcastExcept(exceptConnID, event string, payload any)
}

// Player is one seat of a room. ConnID is the connection events are pushed to.
type Player struct {
	UserID   string
	Username string
	Rating   int
	ConnID   string
}

// Outcome is the final result; Score is from player 1's perspective.
type Outcome struct {
	Score   rating.Score
	Message string
	Delta1  int
	Delta2  int
}

// Ended is handed to Hooks.OnTerminate once per room.
type Ended struct {
	RoomID  string
	Player1 Player
	Player2 Player
	Outcome Outcome
	Plies   int
	EndedAt time.Time
}

// Hooks connect room lifecycle to the rest of the server. Each hook runs outside the
// room lock. Nil hooks are skipped.
type Hooks struct {
	OnStart     func(roomID string)
	OnTerminate func(e Ended)
	OnCleanup   func(roomID string)
}

type Options struct {
	// TickInterval is both the clock period and the amount deducted per tick.
	TickInterval time.Duration
	// CleanupGrace keeps a finished room readable before eviction.
	CleanupGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 100 * time.Millisecond
	}
	if o.CleanupGrace <= 0 {
		o.CleanupGrace = 300 * time.Second
	}
	return o
}

type drawOffer int

const (
	noOffer drawOffer = iota
	offerBy1
	offerBy2
)
