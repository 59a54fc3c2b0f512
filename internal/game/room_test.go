package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	conn    string
	event   string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recorder) Send(connID, event string, payload any) {
	r.mu.Lock()
	r.msgs = append(r.msgs, sent{connID, event, payload})
	r.mu.Unlock()
}
func (r *recorder) Broadcast(event string, payload any) { r.Send("*", event, payload) }
func (r *recorder) BroadcastExcept(_ string, event string, payload any) {
	r.Send("*", event, payload)
}

func (r *recorder) find(conn, event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, m := range r.msgs {
		if m.conn == conn && m.event == event {
			out = append(out, m.payload)
		}
	}
	return out
}

type harness struct {
	arena *Arena
	rec   *recorder
	mu    sync.Mutex
	ended []Ended
}

func (h *harness) endedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ended)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}}
	if opts.TickInterval == 0 {
		// keep the background clock quiet; tests drive tick directly
		opts.TickInterval = time.Hour
	}
	h.arena = NewArena(h.rec, Hooks{OnTerminate: func(e Ended) {
		h.mu.Lock()
		h.ended = append(h.ended, e)
		h.mu.Unlock()
	}}, opts, nil)
	t.Cleanup(h.arena.Shutdown)
	return h
}

var (
	alice = Player{UserID: "1", Username: "alice", Rating: 1000, ConnID: "c1"}
	bob   = Player{UserID: "2", Username: "bob", Rating: 1000, ConnID: "c2"}
)

func mv(from, to string) rules.MoveInput { return rules.MoveInput{From: from, To: to, Piece: "wP"} }

func play(t *testing.T, r *Room, moves ...string) {
	t.Helper()
	for i, m := range moves {
		who := alice.UserID
		if i%2 == 1 {
			who = bob.UserID
		}
		require.NoError(t, r.Move(who, mv(m[:2], m[2:])), "move %d %s", i, m)
	}
}

func TestMoveInvariants(t *testing.T) {
	h := newHarness(t, Options{})
	r, err := h.arena.Create("1000000001", timecontrol.Class(2), alice, bob, rules.White)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Move(bob.UserID, mv("e7", "e5")), ErrInvalidMove, "black cannot move first")
	assert.ErrorIs(t, r.Move("999", mv("e2", "e4")), ErrNotParticipant)
	assert.ErrorIs(t, r.Move(alice.UserID, mv("e2", "e5")), ErrInvalidMove)

	require.NoError(t, r.Move(alice.UserID, mv("e2", "e4")))
	assert.ErrorIs(t, r.Move(alice.UserID, mv("d2", "d4")), ErrInvalidMove, "cannot move twice")

	relayed := h.rec.find("c2", arenadto.EvMove)
	require.Len(t, relayed, 1)
	assert.Equal(t, "e4", relayed[0].(arenadto.MoveRelay).MoveData.TargetSquare)

	t1, t2 := r.Clocks()
	assert.Equal(t, int64(61000), t1, "increment goes to the mover")
	assert.Equal(t, int64(60000), t2)

	data, err := r.Attach(bob.UserID, "c2-new")
	require.NoError(t, err)
	assert.Equal(t, 0, data.Color)
	assert.Len(t, data.MoveHistory, 1)
	assert.Equal(t, "e4", data.MoveHistory[0].SAN)
	assert.Nil(t, data.GameState)
	assert.Equal(t, "alice", data.OpponentInfo.Username)
}

func TestCheckmateTerminatesOnce(t *testing.T) {
	h := newHarness(t, Options{})
	r, err := h.arena.Create("1000000002", timecontrol.Class(7), alice, bob, rules.White)
	require.NoError(t, err)

	play(t, r, "e2e4", "e7e5", "d1h5", "b8c6", "f1c4", "g8f6", "h5f7")
	require.True(t, r.Finished())

	res1 := h.rec.find("c1", arenadto.EvResult)
	res2 := h.rec.find("c2", arenadto.EvResult)
	require.Len(t, res1, 1)
	require.Len(t, res2, 1)
	assert.Equal(t, arenadto.Result{Result: 1, Message: "Win by Checkmate", RatingChange: 16, OpponentRating: 984}, res1[0])
	assert.Equal(t, arenadto.Result{Result: 0, Message: "Win by Checkmate", RatingChange: -16, OpponentRating: 1016}, res2[0])

	// terminal state is immutable
	assert.ErrorIs(t, r.Move(bob.UserID, mv("a7", "a6")), ErrGameOver)
	assert.ErrorIs(t, r.Resign(bob.UserID), ErrGameOver)
	assert.ErrorIs(t, r.OfferDraw(alice.UserID), ErrGameOver)
	assert.Equal(t, rating.Win, r.Outcome().Score)
	assert.Equal(t, 1, h.endedCount())
	assert.Equal(t, 0, h.arena.ActiveCount())
	assert.Equal(t, 1, h.arena.Len())
}

func TestDrawOfferProtocol(t *testing.T) {
	h := newHarness(t, Options{})
	r, err := h.arena.Create("1000000003", timecontrol.Class(5), alice, bob, rules.Black)
	require.NoError(t, err)

	require.NoError(t, r.OfferDraw(alice.UserID))
	require.NoError(t, r.OfferDraw(alice.UserID), "repeat offer is a no-op")
	assert.Len(t, h.rec.find("c2", arenadto.EvOfferDraw), 1)

	data, _ := r.Attach(alice.UserID, "")
	assert.True(t, data.DrawOfferExists)
	assert.Equal(t, 0, data.Color, "alice plays black")

	// bob is white here; moving clears the pending offer
	require.NoError(t, r.Move(bob.UserID, mv("e2", "e4")))
	data, _ = r.Attach(alice.UserID, "")
	assert.False(t, data.DrawOfferExists)

	require.NoError(t, r.OfferDraw(bob.UserID))
	require.NoError(t, r.OfferDraw(alice.UserID))
	out := r.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, rating.Draw, out.Score)
	assert.Equal(t, "Draw by agreement", out.Message)
	assert.Equal(t, 0, out.Delta1)
	assert.Equal(t, 0, out.Delta2)

	data, _ = r.Attach(bob.UserID, "")
	require.NotNil(t, data.GameState)
	assert.Equal(t, 0.5, *data.GameState)
	assert.False(t, data.DrawOfferExists)
}

func TestResign(t *testing.T) {
	h := newHarness(t, Options{})
	strong := bob
	strong.Rating = 1400
	r, err := h.arena.Create("1000000004", timecontrol.Class(3), alice, strong, rules.White)
	require.NoError(t, err)

	require.NoError(t, r.Resign(bob.UserID))
	out := r.Outcome()
	require.NotNil(t, out)
	assert.Equal(t, rating.Win, out.Score)
	assert.Equal(t, "alice wins by resignation", out.Message)
	assert.Equal(t, 29, out.Delta1)
	assert.Equal(t, -29, out.Delta2)

	data, _ := r.Attach(bob.UserID, "")
	require.NotNil(t, data.GameState)
	assert.Equal(t, 0.0, *data.GameState)
}

func TestTimeForfeit(t *testing.T) {
	h := newHarness(t, Options{})
	r, err := h.arena.Create("1000000005", timecontrol.Class(1), alice, bob, rules.White)
	require.NoError(t, err)
	require.NoError(t, r.Move(alice.UserID, mv("e2", "e4")))

	ticks := 0
	for !r.tick(100 * time.Millisecond) {
		ticks++
		require.Less(t, ticks, 1000)
	}
	assert.Equal(t, 599, ticks, "600th tick flags black")

	t1, t2 := r.Clocks()
	assert.Equal(t, int64(60000), t1)
	assert.Equal(t, int64(0), t2)

	res := h.rec.find("c1", arenadto.EvResult)
	require.Len(t, res, 1)
	assert.Equal(t, arenadto.Result{Result: 1, Message: "Time's up", RatingChange: 16, OpponentRating: 984}, res[0])
	res = h.rec.find("c2", arenadto.EvResult)
	require.Len(t, res, 1)
	assert.Equal(t, 0.0, res[0].(arenadto.Result).Result)

	updates := h.rec.find("c2", arenadto.EvTimerUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].(arenadto.TimerUpdate)
	assert.Equal(t, int64(100), last.UserTime, "black sees its own clock first")
	assert.Equal(t, int64(60000), last.OpponentTime)

	assert.True(t, r.tick(100*time.Millisecond), "ticks after the end are inert")
	assert.Equal(t, 1, h.endedCount())
}

func TestCleanupEvictsRoom(t *testing.T) {
	done := make(chan string, 1)
	rec := &recorder{}
	a := NewArena(rec, Hooks{OnCleanup: func(id string) { done <- id }},
		Options{TickInterval: time.Hour, CleanupGrace: 10 * time.Millisecond}, nil)
	defer a.Shutdown()

	r, err := a.Create("1000000006", timecontrol.Class(1), alice, bob, rules.White)
	require.NoError(t, err)
	require.NoError(t, r.Resign(alice.UserID))

	select {
	case id := <-done:
		assert.Equal(t, "1000000006", id)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not run")
	}
	_, err = a.Get("1000000006")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestArenaCreate(t *testing.T) {
	started := 0
	a := NewArena(&recorder{}, Hooks{OnStart: func(string) { started++ }}, Options{}, nil)

	_, err := a.Create("x", timecontrol.Class(13), alice, bob, rules.White)
	assert.ErrorIs(t, err, timecontrol.ErrUnknownClass)
	_, err = a.Create("x", timecontrol.Class(1), alice, bob, rules.White)
	require.NoError(t, err)
	_, err = a.Create("x", timecontrol.Class(1), alice, bob, rules.White)
	assert.ErrorIs(t, err, ErrRoomExists)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, a.ActiveCount())

	a.Shutdown()
	_, err = a.Create("y", timecontrol.Class(1), alice, bob, rules.White)
	assert.ErrorIs(t, err, ErrArenaClosed)
}

func TestRelayOnlyForParticipants(t *testing.T) {
	h := newHarness(t, Options{})
	r, _ := h.arena.Create("1000000007", timecontrol.Class(1), alice, bob, rules.White)
	chat := arenadto.Chat{RoomID: "1000000007", Username: "alice", Message: "gl"}
	require.NoError(t, r.Relay(alice.UserID, arenadto.EvRoomChat, chat))
	assert.ErrorIs(t, r.Relay("3", arenadto.EvRoomChat, chat), ErrNotParticipant)
	assert.Len(t, h.rec.find("c1", arenadto.EvRoomChat), 1)
	assert.Len(t, h.rec.find("c2", arenadto.EvRoomChat), 1)
}
