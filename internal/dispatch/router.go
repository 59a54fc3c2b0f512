// Package dispatch routes decoded client events to the matchmaking, challenge and game
// managers and turns their failures into client-facing events.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

type Deps struct {
	Identity    *identity.Resolver
	Matchmaking *matchmaking.Manager
	Challenges  *challenge.Manager
	Arena       *game.Arena
	Presence    *presence.Tracker
	Notify      game.Notifier
	Messages    *msgcat.Catalog
	ChatMaxLen  int
}

type Router struct {
	Deps
}

func NewRouter(d Deps) *Router {
	if d.Messages == nil {
		d.Messages = msgcat.MustDefault()
	}
	if d.ChatMaxLen <= 0 {
		d.ChatMaxLen = 500
	}
	return &Router{Deps: d}
}

// Handle processes one client event from connID. Failures are reported to connID only.
func (r *Router) Handle(ctx context.Context, connID string, env arenadto.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("dispatch_panic",
				zap.String("event", env.Event),
				zap.String("conn", connID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			r.reply(connID, arenadto.EvError, arenadto.Message{Message: r.Messages.Text(opFor(env.Event).key, nil)})
		}
	}()

	var err error
	switch env.Event {
	case arenadto.EvJoinMatchmaking:
		err = r.joinMatchmaking(ctx, connID, env.Data)
	case arenadto.EvLeaveMatchmaking:
		err = r.leaveMatchmaking(ctx, connID, env.Data)
	case arenadto.EvCreateChallenge:
		err = r.createChallenge(ctx, connID, env.Data)
	case arenadto.EvDeleteChallenge:
		err = r.deleteChallenge(ctx, connID, env.Data)
	case arenadto.EvJoinChallenge:
		err = r.joinChallenge(ctx, connID, env.Data)
	case arenadto.EvGetGameData:
		err = r.getGameData(ctx, connID, env.Data)
	case arenadto.EvMove:
		err = r.move(ctx, connID, env.Data)
	case arenadto.EvOfferDraw:
		err = r.offerDraw(ctx, connID, env.Data)
	case arenadto.EvResign:
		err = r.resign(ctx, connID, env.Data)
	case arenadto.EvQueryLiveUserCount:
		err = r.queryUsers(ctx, connID)
	case arenadto.EvQueryLiveGameCount:
		err = r.queryGames(ctx, connID)
	case arenadto.EvGlobalChat:
		err = r.globalChat(ctx, connID, env.Data)
	case arenadto.EvRoomChat:
		err = r.roomChat(ctx, connID, env.Data)
	default:
		err = errUnknownEvent
	}
	if err == nil {
		return
	}
	de := r.classify(env.Event, err)
	if de.Code == codeInternal {
		obslog.L().Error("dispatch_failed", zap.String("event", env.Event), zap.String("conn", connID), zap.Error(err))
	} else {
		obslog.L().Debug("dispatch_rejected", zap.String("event", env.Event), zap.String("conn", connID), zap.Error(err))
	}
	r.reply(connID, de.Event, de.Payload())
}

func (r *Router) reply(connID, event string, payload any) {
	r.Notify.Send(connID, event, payload)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", errBadPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

func (r *Router) joinMatchmaking(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.QueueRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	class, err := timecontrol.Parse(req.Index)
	if err != nil {
		return err
	}
	ident, err := r.Identity.Resolve(ctx, req.Token)
	if err != nil {
		return err
	}
	return r.Matchmaking.Enqueue(ctx, ident, connID, class)
}

func (r *Router) leaveMatchmaking(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.QueueRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	class, err := timecontrol.Parse(req.Index)
	if err != nil {
		return err
	}
	claims, err := r.Identity.Verify(req.Token)
	if err != nil {
		return err
	}
	if _, err := r.Matchmaking.Dequeue(ctx, string(claims.UserID), class); err != nil {
		return err
	}
	r.reply(connID, arenadto.EvSuccess, arenadto.Message{Message: r.Messages.Text("matchmaking.left", nil)})
	return nil
}

func (r *Router) createChallenge(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.QueueRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	class, err := timecontrol.Parse(req.Index)
	if err != nil {
		return err
	}
	ident, err := r.Identity.Resolve(ctx, req.Token)
	if err != nil {
		return err
	}
	code, err := r.Challenges.Create(ctx, ident, connID, class)
	if err != nil {
		return err
	}
	r.reply(connID, arenadto.EvChallengeCreated, arenadto.ChallengeCode{ChallengeID: code, Username: ident.Username})
	return nil
}

func (r *Router) deleteChallenge(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.ChallengeRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	claims, err := r.Identity.Verify(req.Token)
	if err != nil {
		return err
	}
	if err := r.Challenges.Cancel(ctx, req.ChallengeID); err != nil {
		return err
	}
	r.reply(connID, arenadto.EvChallengeDeleted, arenadto.ChallengeCode{ChallengeID: req.ChallengeID, Username: claims.Username})
	return nil
}

func (r *Router) joinChallenge(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.ChallengeRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	ident, err := r.Identity.Resolve(ctx, req.Token)
	if err != nil {
		return err
	}
	_, err = r.Challenges.Redeem(ctx, req.ChallengeID, ident, connID)
	return err
}

// roomFor authenticates an in-room request and finds its room.
func (r *Router) roomFor(ctx context.Context, req arenadto.RoomRequest) (*game.Room, identity.Identity, error) {
	ident, err := r.Identity.ResolveInGame(ctx, req.Token)
	if err != nil {
		return nil, identity.Identity{}, err
	}
	room, err := r.Arena.Get(strings.TrimSpace(req.RoomID))
	if err != nil {
		return nil, identity.Identity{}, err
	}
	return room, ident, nil
}

func (r *Router) getGameData(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room, ident, err := r.roomFor(ctx, req)
	if err != nil {
		return err
	}
	data, err := room.Attach(ident.UserID, connID)
	if err != nil {
		return err
	}
	r.reply(connID, arenadto.EvGetGameData, data)
	return nil
}

func (r *Router) move(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.MoveRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room, ident, err := r.roomFor(ctx, arenadto.RoomRequest{Authed: req.Authed, RoomID: req.RoomID})
	if err != nil {
		return err
	}
	return room.Move(ident.UserID, rules.MoveInput{
		From:  req.MoveData.SourceSquare,
		To:    req.MoveData.TargetSquare,
		Piece: req.MoveData.Piece,
	})
}

func (r *Router) offerDraw(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room, ident, err := r.roomFor(ctx, req)
	if err != nil {
		return err
	}
	return room.OfferDraw(ident.UserID)
}

func (r *Router) resign(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room, ident, err := r.roomFor(ctx, req)
	if err != nil {
		return err
	}
	return room.Resign(ident.UserID)
}

func (r *Router) queryUsers(ctx context.Context, connID string) error {
	n, err := r.Presence.QueryUsers(ctx)
	if err != nil {
		return err
	}
	r.reply(connID, arenadto.EvLiveUserCount, arenadto.Count{N: n})
	return nil
}

func (r *Router) queryGames(ctx context.Context, connID string) error {
	n, err := r.Presence.QueryGames(ctx)
	if err != nil {
		return err
	}
	r.reply(connID, arenadto.EvLiveGameCount, arenadto.Count{N: n})
	return nil
}

func (r *Router) chatMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" || utf8.RuneCountInString(msg) > r.ChatMaxLen {
		return "", fmt.Errorf("%w: chat message length", errBadPayload)
	}
	return msg, nil
}

func (r *Router) globalChat(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.ChatRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	claims, err := r.Identity.Verify(req.Token)
	if err != nil {
		return err
	}
	msg, err := r.chatMessage(req.Message)
	if err != nil {
		return err
	}
	r.Notify.BroadcastExcept(connID, arenadto.EvGlobalChat, arenadto.Chat{Username: claims.Username, Message: msg})
	return nil
}

func (r *Router) roomChat(ctx context.Context, connID string, raw json.RawMessage) error {
	var req arenadto.ChatRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	room, ident, err := r.roomFor(ctx, arenadto.RoomRequest{Authed: req.Authed, RoomID: req.RoomID})
	if err != nil {
		return err
	}
	msg, err := r.chatMessage(req.Message)
	if err != nil {
		return err
	}
	return room.Relay(ident.UserID, arenadto.EvRoomChat, arenadto.Chat{RoomID: room.ID(), Username: ident.Username, Message: msg})
}
