// Package presence keeps the live user and game counters and pushes changes to clients.
package presence

import (
	"context"

	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

type Tracker struct {
	store  *coord.Store
	notify game.Notifier
}

func NewTracker(store *coord.Store, notify game.Notifier) *Tracker {
	return &Tracker{store: store, notify: notify}
}

// Connect counts a connection of clientID. Only a client's first connection changes the
// user count; every client is told about the change.
func (t *Tracker) Connect(ctx context.Context, clientID string) (int64, error) {
	first, total, err := t.store.ClientConnected(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if first {
		t.notify.Broadcast(arenadto.EvLiveUserCount, arenadto.Count{N: total})
		obslog.L().Debug("presence_connect", zap.String("client", clientID), zap.Int64("users", total))
	}
	return total, nil
}

// Disconnect is the inverse of Connect.
func (t *Tracker) Disconnect(ctx context.Context, clientID string) (int64, error) {
	last, total, err := t.store.ClientDisconnected(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if last {
		t.notify.Broadcast(arenadto.EvLiveUserCount, arenadto.Count{N: total})
		obslog.L().Debug("presence_disconnect", zap.String("client", clientID), zap.Int64("users", total))
	}
	return total, nil
}

func (t *Tracker) GameStarted(ctx context.Context) {
	n, err := t.store.IncrLiveGames(ctx)
	if err != nil {
		obslog.L().Warn("live_games_incr_failed", zap.Error(err))
		return
	}
	t.notify.Broadcast(arenadto.EvLiveGameCount, arenadto.Count{N: n})
}

func (t *Tracker) GameEnded(ctx context.Context) {
	n, err := t.store.DecrLiveGames(ctx)
	if err != nil {
		obslog.L().Warn("live_games_decr_failed", zap.Error(err))
		return
	}
	t.notify.Broadcast(arenadto.EvLiveGameCount, arenadto.Count{N: n})
}

func (t *Tracker) QueryUsers(ctx context.Context) (int64, error) { return t.store.TotalUsers(ctx) }

func (t *Tracker) QueryGames(ctx context.Context) (int64, error) { return t.store.LiveGames(ctx) }
