package dispatch

import (
	"errors"

	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("malformed payload")
)

const (
	codeUnauthorized   = "unauthorized"
	codeNotFound       = "not_found"
	codeInvalidMove    = "invalid_move"
	codeAlreadyPlaying = "already_playing"
	codeBadRequest     = "bad_request"
	codeInternal       = "internal"
)

// op is the per-event fallback: which event carries failures and its generic text.
type op struct {
	event string
	key   string
}

func opFor(event string) op {
	switch event {
	case arenadto.EvJoinMatchmaking:
		return op{arenadto.EvError, "error.join_matchmaking"}
	case arenadto.EvLeaveMatchmaking:
		return op{arenadto.EvError, "error.leave_matchmaking"}
	case arenadto.EvCreateChallenge:
		return op{arenadto.EvError, "error.create_challenge"}
	case arenadto.EvDeleteChallenge:
		return op{arenadto.EvError, "error.delete_challenge"}
	case arenadto.EvJoinChallenge:
		return op{arenadto.EvErrorJoinChallenge, "challenge.failed"}
	case arenadto.EvGetGameData:
		return op{arenadto.EvError, "error.game_data"}
	case arenadto.EvMove:
		return op{arenadto.EvError, "error.move"}
	case arenadto.EvOfferDraw:
		return op{arenadto.EvError, "error.draw_offer"}
	case arenadto.EvResign:
		return op{arenadto.EvError, "error.resign"}
	case arenadto.EvGlobalChat, arenadto.EvRoomChat:
		return op{arenadto.EvError, "error.chat"}
	default:
		return op{arenadto.EvError, "error.internal"}
	}
}

// classify maps a handler error onto the client-facing taxonomy.
func (r *Router) classify(event string, err error) arenadto.DomainError {
	o := opFor(event)
	text := func(key string) string { return r.Messages.Text(key, nil) }

	var ap *coord.AlreadyPlayingError
	switch {
	case errors.As(err, &ap):
		return arenadto.DomainError{Event: arenadto.EvUserAlreadyPlaying, Code: codeAlreadyPlaying, Message: ap.Error(), RoomID: ap.RoomID}
	case errors.Is(err, identity.ErrUnauthorized), errors.Is(err, game.ErrNotParticipant):
		return arenadto.DomainError{Event: o.event, Code: codeUnauthorized, Message: text("error.unauthorized")}
	case errors.Is(err, game.ErrRoomNotFound):
		return arenadto.DomainError{Event: arenadto.EvError, Code: codeNotFound, Message: text("error.room_not_found")}
	case errors.Is(err, challenge.ErrNotFound):
		return arenadto.DomainError{Event: arenadto.EvErrorJoinChallenge, Code: codeNotFound, Message: text("challenge.not_found")}
	case errors.Is(err, challenge.ErrSelfChallenge):
		return arenadto.DomainError{Event: arenadto.EvErrorJoinChallenge, Code: codeBadRequest, Message: text("challenge.self")}
	case errors.Is(err, challenge.ErrCreatorBusy):
		return arenadto.DomainError{Event: arenadto.EvErrorJoinChallenge, Code: codeBadRequest, Message: text("challenge.creator_busy")}
	case event == arenadto.EvMove && (errors.Is(err, game.ErrInvalidMove) || errors.Is(err, game.ErrGameOver)):
		return arenadto.DomainError{Event: arenadto.EvInvalidMove, Code: codeInvalidMove}
	case errors.Is(err, errUnknownEvent):
		return arenadto.DomainError{Event: arenadto.EvError, Code: codeBadRequest, Message: text("error.unknown_event")}
	case errors.Is(err, errBadPayload), errors.Is(err, timecontrol.ErrUnknownClass), errors.Is(err, game.ErrGameOver):
		return arenadto.DomainError{Event: o.event, Code: codeBadRequest, Message: text(o.key)}
	default:
		return arenadto.DomainError{Event: o.event, Code: codeInternal, Message: text(o.key)}
	}
}
