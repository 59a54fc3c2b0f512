package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu    sync.Mutex
	found map[string][]string
}

func (i *inbox) Send(connID, event string, payload any) {
	if event != arenadto.EvMatchFound {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.found[connID] = append(i.found[connID], payload.(arenadto.MatchFound).RoomID)
}
func (i *inbox) Broadcast(string, any)               {}
func (i *inbox) BroadcastExcept(string, string, any) {}

type fixture struct {
	m     *Manager
	store *coord.Store
	arena *game.Arena
	box   *inbox
	repo  profile.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		store: coord.New(rdb, "arena:"),
		box:   &inbox{found: map[string][]string{}},
		repo:  profile.NewMemoryRepository(1000),
	}
	f.arena = game.NewArena(f.box, game.Hooks{}, game.Options{TickInterval: time.Hour}, nil)
	t.Cleanup(f.arena.Shutdown)
	f.m = NewManager(f.store, f.arena, f.box, f.repo)
	f.m.coin = func() rules.Color { return rules.Black }
	return f
}

func id(uid string) identity.Identity {
	return identity.Identity{UserID: uid, Username: "user" + uid, Rating: 1000}
}

func TestRedeemOpensRoomNamedByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.ApplyRatingDelta(ctx, "1", 150))

	code, err := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(8))
	require.NoError(t, err)
	assert.Len(t, code, 10)

	room, err := f.m.Redeem(ctx, code, id("2"), "c2")
	require.NoError(t, err)
	assert.Equal(t, code, room)
	assert.Equal(t, []string{code}, f.box.found["c1"])
	assert.Equal(t, []string{code}, f.box.found["c2"])

	r, err := f.arena.Get(code)
	require.NoError(t, err)
	assert.Equal(t, timecontrol.Class(8), r.Class())
	p1, p2 := r.Players()
	assert.Equal(t, 1150, p1.Rating, "creator rating comes from the profile store")
	assert.Equal(t, "2", p2.UserID)

	_, err = f.m.Redeem(ctx, code, id("3"), "c3")
	assert.ErrorIs(t, err, ErrNotFound, "a redeemed code is gone")
}

func TestRedeemErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Redeem(ctx, "1234567890", id("2"), "c2")
	assert.ErrorIs(t, err, ErrNotFound)

	code, _ := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(1))
	_, err = f.m.Redeem(ctx, code, id("1"), "c1")
	assert.ErrorIs(t, err, ErrSelfChallenge)

	// creator gets into another game before the code is used
	other, _ := f.m.Create(ctx, id("9"), "c9", timecontrol.Class(1))
	_, err = f.m.Redeem(ctx, other, id("1"), "c1")
	require.NoError(t, err)

	_, err = f.m.Redeem(ctx, code, id("2"), "c2")
	assert.ErrorIs(t, err, ErrCreatorBusy)

	_, err = f.m.Create(ctx, id("1"), "c1", timecontrol.Class(1))
	var ap *coord.AlreadyPlayingError
	require.True(t, errors.As(err, &ap))
	assert.Equal(t, other, ap.RoomID)
}

func TestConcurrentDoubleRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(4))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []string{"2", "3"} {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			_, errs[i] = f.m.Redeem(ctx, code, id(uid), "c"+uid)
		}(i, uid)
	}
	wg.Wait()

	ok, notFound := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, notFound)
	assert.Equal(t, 1, f.arena.Len())
	assert.Len(t, f.box.found["c1"], 1)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, _ := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(2))

	require.NoError(t, f.m.Cancel(ctx, code))
	require.NoError(t, f.m.Cancel(ctx, code), "cancel is idempotent")
	_, err := f.m.Redeem(ctx, code, id("2"), "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelByConn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(2))
	b, _ := f.m.Create(ctx, id("1"), "c1", timecontrol.Class(3))
	keep, _ := f.m.Create(ctx, id("5"), "c5", timecontrol.Class(3))

	assert.Equal(t, 2, f.m.CancelByConn(ctx, "c1"))
	assert.Equal(t, 0, f.m.CancelByConn(ctx, "c1"))
	for _, code := range []string{a, b} {
		ch, _ := f.store.GetChallenge(ctx, code)
		assert.Nil(t, ch)
	}
	ch, _ := f.store.GetChallenge(ctx, keep)
	assert.NotNil(t, ch)
}
