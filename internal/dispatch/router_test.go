package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/challenge"
	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	conn    string
	event   string
	payload any
}

type outbox struct {
	mu   sync.Mutex
	msgs []sent
}

func (o *outbox) Send(connID, event string, payload any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, sent{connID, event, payload})
}
func (o *outbox) Broadcast(event string, payload any) { o.Send("*", event, payload) }
func (o *outbox) BroadcastExcept(except, event string, payload any) {
	o.Send("!"+except, event, payload)
}

// last returns the newest payload of event sent to conn.
func (o *outbox) last(t *testing.T, conn, event string) any {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].conn == conn && o.msgs[i].event == event {
			return o.msgs[i].payload
		}
	}
	t.Fatalf("no %s sent to %s; got %+v", event, conn, o.msgs)
	return nil
}

func (o *outbox) count(conn, event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.conn == conn && m.event == event {
			n++
		}
	}
	return n
}

type stack struct {
	router *Router
	out    *outbox
	ids    *identity.Resolver
	arena  *game.Arena
}

func newStack(t *testing.T) *stack {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := coord.New(rdb, "arena:")
	repo := profile.NewMemoryRepository(1000)
	out := &outbox{}
	ids := identity.NewResolver(identity.Config{Secret: []byte("s3cret"), AllowExpiredInGame: true}, repo)
	arena := game.NewArena(out, game.Hooks{}, game.Options{TickInterval: time.Hour}, nil)
	t.Cleanup(arena.Shutdown)

	r := NewRouter(Deps{
		Identity:    ids,
		Matchmaking: matchmaking.NewManager(store, arena, out),
		Challenges:  challenge.NewManager(store, arena, out, repo),
		Arena:       arena,
		Presence:    presence.NewTracker(store, out),
		Notify:      out,
		ChatMaxLen:  20,
	})
	return &stack{router: r, out: out, ids: ids, arena: arena}
}

func (s *stack) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := s.ids.Issue(uid, "user"+uid, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *stack) send(conn, event string, data any) {
	raw, _ := json.Marshal(data)
	s.router.Handle(context.Background(), conn, arenadto.Envelope{Event: event, Data: raw})
}

func TestMatchmakingToFirstMove(t *testing.T) {
	s := newStack(t)
	t1, t2 := s.token(t, "1"), s.token(t, "2")

	s.send("c1", arenadto.EvJoinMatchmaking, map[string]any{"index": 3, "token": t1})
	s.send("c2", arenadto.EvJoinMatchmaking, map[string]any{"index": 3, "token": t2})

	room := s.out.last(t, "c1", arenadto.EvMatchFound).(arenadto.MatchFound).RoomID
	assert.Equal(t, room, s.out.last(t, "c2", arenadto.EvMatchFound).(arenadto.MatchFound).RoomID)

	s.send("c1", arenadto.EvGetGameData, map[string]any{"roomId": room, "token": t1})
	data := s.out.last(t, "c1", arenadto.EvGetGameData).(arenadto.GameData)
	assert.Equal(t, arenadto.TimeControl{Init: 3, Increment: 0}, data.TimeControl)
	assert.Equal(t, "user2", data.OpponentInfo.Username)

	white, whiteTok, black, blackTok := "c1", t1, "c2", t2
	if data.Color == 0 {
		white, whiteTok, black, blackTok = "c2", t2, "c1", t1
	}
	move := func(tok string, from, to string) map[string]any {
		return map[string]any{"roomId": room, "token": tok,
			"moveData": map[string]string{"sourceSquare": from, "targetSquare": to, "piece": "wP"}}
	}

	s.send(black, arenadto.EvMove, move(blackTok, "e7", "e5"))
	assert.Equal(t, 1, s.out.count(black, arenadto.EvInvalidMove))

	s.send(white, arenadto.EvMove, move(whiteTok, "e2", "e4"))
	relay := s.out.last(t, black, arenadto.EvMove).(arenadto.MoveRelay)
	assert.Equal(t, "e2", relay.MoveData.SourceSquare)

	// a player in a room cannot queue again
	s.send("c1", arenadto.EvJoinMatchmaking, map[string]any{"index": 1, "token": t1})
	ref := s.out.last(t, "c1", arenadto.EvUserAlreadyPlaying).(arenadto.RoomRef)
	assert.Equal(t, room, ref.RoomID)

	s.send("c3", arenadto.EvGetGameData, map[string]any{"roomId": room, "token": s.token(t, "3")})
	assert.Equal(t, "Unauthorized", s.out.last(t, "c3", arenadto.EvError).(arenadto.Message).Message)

	s.send(white, arenadto.EvResign, map[string]any{"roomId": room, "token": whiteTok})
	res := s.out.last(t, black, arenadto.EvResult).(arenadto.Result)
	assert.Equal(t, 1.0, res.Result)
}

func TestErrorTaxonomy(t *testing.T) {
	s := newStack(t)
	tok := s.token(t, "1")

	s.send("c1", arenadto.EvJoinMatchmaking, map[string]any{"index": 3, "token": "bogus"})
	assert.Equal(t, "Unauthorized", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)

	s.send("c1", "no-such-event", map[string]any{})
	assert.Equal(t, "Unknown event", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)

	s.send("c1", arenadto.EvJoinMatchmaking, "not an object")
	assert.Equal(t, "Failed to join matchmaking", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)

	s.send("c1", arenadto.EvJoinMatchmaking, map[string]any{"index": 99, "token": tok})
	assert.Equal(t, "Failed to join matchmaking", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)

	s.send("c1", arenadto.EvGetGameData, map[string]any{"roomId": "0000000000", "token": tok})
	assert.Equal(t, "Room not found", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)

	s.send("c1", arenadto.EvJoinChallenge, map[string]any{"challengeId": "0000000000", "token": tok})
	assert.Equal(t, "Challenge ID does not exist",
		s.out.last(t, "c1", arenadto.EvErrorJoinChallenge).(arenadto.Message).Message)
}

func TestLeaveMatchmakingTwice(t *testing.T) {
	s := newStack(t)
	tok := s.token(t, "1")
	s.send("c1", arenadto.EvJoinMatchmaking, map[string]any{"index": 5, "token": tok})
	s.send("c1", arenadto.EvLeaveMatchmaking, map[string]any{"index": 5, "token": tok})
	s.send("c1", arenadto.EvLeaveMatchmaking, map[string]any{"index": 5, "token": tok})
	assert.Equal(t, 2, s.out.count("c1", arenadto.EvSuccess))
	assert.Equal(t, 0, s.out.count("c1", arenadto.EvError))
}

func TestChallengeFlow(t *testing.T) {
	s := newStack(t)
	t1, t2 := s.token(t, "1"), s.token(t, "2")

	s.send("c1", arenadto.EvCreateChallenge, map[string]any{"index": 7, "token": t1})
	code := s.out.last(t, "c1", arenadto.EvChallengeCreated).(arenadto.ChallengeCode).ChallengeID

	s.send("c1", arenadto.EvJoinChallenge, map[string]any{"challengeId": code, "token": t1})
	assert.Equal(t, "Cannot challenge yourself",
		s.out.last(t, "c1", arenadto.EvErrorJoinChallenge).(arenadto.Message).Message)

	s.send("c2", arenadto.EvJoinChallenge, map[string]any{"challengeId": code, "token": t2})
	assert.Equal(t, code, s.out.last(t, "c1", arenadto.EvMatchFound).(arenadto.MatchFound).RoomID)
	assert.Equal(t, code, s.out.last(t, "c2", arenadto.EvMatchFound).(arenadto.MatchFound).RoomID)

	s.send("c1", arenadto.EvCreateChallenge, map[string]any{"index": 7, "token": t1})
	assert.Equal(t, code, s.out.last(t, "c1", arenadto.EvUserAlreadyPlaying).(arenadto.RoomRef).RoomID)

	s.send("c3", arenadto.EvCreateChallenge, map[string]any{"index": 1, "token": s.token(t, "3")})
	other := s.out.last(t, "c3", arenadto.EvChallengeCreated).(arenadto.ChallengeCode).ChallengeID
	s.send("c3", arenadto.EvDeleteChallenge, map[string]any{"challengeId": other, "token": s.token(t, "3")})
	assert.Equal(t, other, s.out.last(t, "c3", arenadto.EvChallengeDeleted).(arenadto.ChallengeCode).ChallengeID)
}

func TestChat(t *testing.T) {
	s := newStack(t)
	tok := s.token(t, "1")
	s.send("c1", arenadto.EvGlobalChat, map[string]any{"message": " hello ", "token": tok})
	chat := s.out.last(t, "!c1", arenadto.EvGlobalChat).(arenadto.Chat)
	assert.Equal(t, arenadto.Chat{Username: "user1", Message: "hello"}, chat)

	s.send("c1", arenadto.EvGlobalChat, map[string]any{"message": "this message is far too long", "token": tok})
	assert.Equal(t, "Failed to send chat message", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)
}

func TestQueriesAndPanicRecovery(t *testing.T) {
	s := newStack(t)
	s.send("c1", arenadto.EvQueryLiveGameCount, nil)
	assert.Equal(t, int64(0), s.out.last(t, "c1", arenadto.EvLiveGameCount).(arenadto.Count).N)

	s.router.Presence = nil
	assert.NotPanics(t, func() { s.send("c1", arenadto.EvQueryLiveUserCount, nil) })
	assert.Equal(t, "Internal server error", s.out.last(t, "c1", arenadto.EvError).(arenadto.Message).Message)
}
