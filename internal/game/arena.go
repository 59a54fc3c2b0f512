// Package game runs live matches: one Room per paired couple, kept in an Arena.
package game

import (
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rules"
	"github.com/park285/cheese-arena/internal/timecontrol"
	"go.uber.org/zap"
)

// Arena owns every room on this process.
type Arena struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	notify Notifier
	hooks  Hooks
	opts   Options
	msgs   *msgcat.Catalog
}

func NewArena(n Notifier, hooks Hooks, opts Options, msgs *msgcat.Catalog) *Arena {
	if msgs == nil {
		msgs = msgcat.MustDefault()
	}
	return &Arena{
		rooms:  make(map[string]*Room),
		notify: n,
		hooks:  hooks,
		opts:   opts.withDefaults(),
		msgs:   msgs,
	}
}

// Create opens room id. color is player 1's colour; the clock starts with the first move.
func (a *Arena) Create(id string, class timecontrol.Class, p1, p2 Player, color rules.Color) (*Room, error) {
	if !class.Valid() {
		return nil, timecontrol.ErrUnknownClass
	}
	tc := class.Control()
	r := &Room{
		arena:     a,
		id:        id,
		class:     class,
		tc:        tc,
		p1:        p1,
		p2:        p2,
		color:     color,
		pos:       rules.NewPosition(),
		time1:     tc.InitialMillis(),
		time2:     tc.InitialMillis(),
		turn:      2,
		createdAt: time.Now(),
	}
	if color == rules.White {
		r.turn = 1
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrArenaClosed
	}
	if _, ok := a.rooms[id]; ok {
		a.mu.Unlock()
		return nil, ErrRoomExists
	}
	a.rooms[id] = r
	a.mu.Unlock()

	obslog.L().Info("room_create",
		zap.String("room", id),
		zap.String("time_control", class.String()),
		zap.String("p1", p1.UserID),
		zap.String("p2", p2.UserID),
		zap.String("p1_color", color.String()),
	)
	if a.hooks.OnStart != nil {
		a.hooks.OnStart(id)
	}
	return r, nil
}

func (a *Arena) Get(id string) (*Room, error) {
	a.mu.RLock()
	r, ok := a.rooms[id]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Len counts rooms still held, finished ones included until cleanup.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.rooms)
}

// ActiveCount counts rooms without an outcome.
func (a *Arena) ActiveCount() int {
	a.mu.RLock()
	list := make([]*Room, 0, len(a.rooms))
	for _, r := range a.rooms {
		list = append(list, r)
	}
	a.mu.RUnlock()
	n := 0
	for _, r := range list {
		if !r.Finished() {
			n++
		}
	}
	return n
}

// Shutdown stops every clock and pending cleanup. Rooms are left in place.
func (a *Arena) Shutdown() {
	a.mu.Lock()
	a.closed = true
	list := make([]*Room, 0, len(a.rooms))
	for _, r := range a.rooms {
		list = append(list, r)
	}
	a.mu.Unlock()
	for _, r := range list {
		r.stop()
	}
	obslog.L().Info("arena_shutdown", zap.Int("rooms", len(list)))
}

func (a *Arena) evict(id string) {
	a.mu.Lock()
	delete(a.rooms, id)
	a.mu.Unlock()
	obslog.L().Info("room_evict", zap.String("room", id))
	if a.hooks.OnCleanup != nil {
		a.hooks.OnCleanup(id)
	}
}

func (a *Arena) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}
