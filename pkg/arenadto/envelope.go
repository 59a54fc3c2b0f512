// Package arenadto holds the wire shapes exchanged with browser clients.
package arenadto

import "encoding/json"

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound is an envelope whose payload is not yet encoded.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client to server.
const (
	EvJoinMatchmaking    = "join-matchmaking"
	EvLeaveMatchmaking   = "leave-matchmaking"
	EvCreateChallenge    = "create-challenge-friend"
	EvDeleteChallenge    = "delete-challenge"
	EvJoinChallenge      = "join-challenge"
	EvGetGameData        = "get-game-data"
	EvMove               = "move"
	EvOfferDraw          = "offer-draw"
	EvResign             = "resign"
	EvQueryLiveUserCount = "query-live-user-count"
	EvQueryLiveGameCount = "query-live-game-count"
	EvGlobalChat         = "global-chat"
	EvRoomChat           = "room-chat"
)

// Server to client. Some share a name with a client event.
const (
	EvMatchFound         = "match-found"
	EvChallengeCreated   = "challenge-created"
	EvChallengeDeleted   = "challenge-deleted"
	EvUserAlreadyPlaying = "error-user-already-playing"
	EvErrorJoinChallenge = "error-join-challenge"
	EvResult             = "result"
	EvTimerUpdate        = "timer-update"
	EvInvalidMove        = "invalid-move"
	EvError              = "error"
	EvSuccess            = "success"
	EvLiveUserCount      = "live-user-count"
	EvLiveGameCount      = "live-game-count"
)
