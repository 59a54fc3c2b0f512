// Package matchmaking pairs queued players of the same time control into rooms.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/park285/cheese-arena/pkg/arenadto"
	"go.uber.org/zap"
)

type Manager struct {
	store  *coord.Store
	arena  *game.Arena
	notify game.Notifier

	mu    sync.Mutex
	locks map[timecontrol.Class]*sync.Mutex

	coin func() rules.Color
}

func NewManager(store *coord.Store, arena *game.Arena, notify game.Notifier) *Manager {
	return &Manager{
		store:  store,
		arena:  arena,
		notify: notify,
		locks:  make(map[timecontrol.Class]*sync.Mutex),
		coin:   rules.RandomColor,
	}
}

func (m *Manager) classLock(c timecontrol.Class) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[c]
	if !ok {
		l = &sync.Mutex{}
		m.locks[c] = l
	}
	return l
}

// Enqueue queues ident for class and runs a pairing pass. Joining again refreshes the
// entry. A player mapped to a room gets *coord.AlreadyPlayingError.
func (m *Manager) Enqueue(ctx context.Context, ident identity.Identity, connID string, class timecontrol.Class) error {
	if !class.Valid() {
		return timecontrol.ErrUnknownClass
	}
	room, err := m.store.RoomOf(ctx, ident.UserID)
	if err != nil {
		return fmt.Errorf("room lookup: %w", err)
	}
	if room != "" {
		return &coord.AlreadyPlayingError{UserID: ident.UserID, RoomID: room}
	}
	entry := coord.QueueEntry{
		UserID:   ident.UserID,
		Username: ident.Username,
		Rating:   ident.Rating,
		ConnID:   connID,
		JoinedAt: time.Now(),
	}
	if err := m.store.Enqueue(ctx, class, entry); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	obslog.L().Info("queue_join",
		zap.String("user", ident.UserID),
		zap.Int("rating", ident.Rating),
		zap.String("time_control", class.String()),
	)
	if _, err := m.Pair(ctx, class); err != nil {
		obslog.L().Warn("pair_pass_failed", zap.String("time_control", class.String()), zap.Error(err))
	}
	return nil
}

// Dequeue removes userID from class. Leaving a queue one is not in is not an error.
func (m *Manager) Dequeue(ctx context.Context, userID string, class timecontrol.Class) (bool, error) {
	if !class.Valid() {
		return false, timecontrol.ErrUnknownClass
	}
	removed, err := m.store.Dequeue(ctx, class, userID)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if removed {
		obslog.L().Info("queue_leave", zap.String("user", userID), zap.String("time_control", class.String()))
	}
	return removed, nil
}

// Pair runs one pairing pass over class: the queue is read in rating order and
// neighbours are paired greedily. It returns the number of rooms opened.
func (m *Manager) Pair(ctx context.Context, class timecontrol.Class) (int, error) {
	l := m.classLock(class)
	l.Lock()
	defer l.Unlock()

	opened := 0
	for {
		entries, err := m.store.QueueEntries(ctx, class)
		if err != nil {
			return opened, err
		}
		dropped := 0
		for i := 0; i+1 < len(entries); i += 2 {
			err := m.pairOne(ctx, class, entries[i], entries[i+1])
			if err == nil {
				opened++
				continue
			}
			var ap *coord.AlreadyPlayingError
			if errors.As(err, &ap) {
				// stale entry: the player got a room elsewhere since queueing
				if _, derr := m.store.Dequeue(ctx, class, ap.UserID); derr == nil {
					dropped++
				}
				continue
			}
			obslog.L().Warn("pair_failed",
				zap.String("a", entries[i].UserID),
				zap.String("b", entries[i+1].UserID),
				zap.Error(err),
			)
		}
		if dropped == 0 {
			return opened, nil
		}
	}
}

func (m *Manager) pairOne(ctx context.Context, class timecontrol.Class, a, b coord.QueueEntry) error {
	code, err := m.store.AllocateCode(ctx, coord.KindRoom)
	if err != nil {
		return err
	}
	if err := m.store.ClaimPair(ctx, class, a, b, code); err != nil {
		_ = m.store.ReleaseCode(ctx, code)
		return err
	}
	p1 := game.Player{UserID: a.UserID, Username: a.Username, Rating: a.Rating, ConnID: a.ConnID}
	p2 := game.Player{UserID: b.UserID, Username: b.Username, Rating: b.Rating, ConnID: b.ConnID}
	if _, err := m.arena.Create(code, class, p1, p2, m.coin()); err != nil {
		_ = m.store.ReleaseUsers(ctx, code, a.UserID, b.UserID)
		_ = m.store.UnregisterRoom(ctx, code)
		return err
	}
	m.notify.Send(a.ConnID, arenadto.EvMatchFound, arenadto.MatchFound{RoomID: code})
	m.notify.Send(b.ConnID, arenadto.EvMatchFound, arenadto.MatchFound{RoomID: code})
	obslog.L().Info("match_found",
		zap.String("room", code),
		zap.String("a", a.UserID),
		zap.String("b", b.UserID),
		zap.String("time_control", class.String()),
	)
	return nil
}

// Sweep runs a pairing pass over every class.
func (m *Manager) Sweep(ctx context.Context) int {
	total := 0
	for _, c := range timecontrol.All() {
		n, err := m.Pair(ctx, c)
		if err != nil {
			obslog.L().Warn("sweep_pair_failed", zap.String("time_control", c.String()), zap.Error(err))
		}
		total += n
	}
	return total
}
