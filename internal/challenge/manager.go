// Package challenge implements direct friend challenges redeemed by code.
package challenge

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/park285/cheese-arena/internal/coord"
    "github.com/park285/cheese-arena/internal/game"
    "github.com/park285/cheese-arena/internal/identity"
    "github.com/park285/cheese-arena/internal/obslog"
    "github.com/park285/cheese-arena/internal/profile"
    "github.com/park285/cheese-arena/internal/rules"
    "github.com/park285/cheese-arena/internal/timecontrol"
    "github.com/park285/cheese-arena/pkg/arenadto"
    "go.uber.org/zap"
)

var (
    ErrNotFound      = errors.New("challenge does not exist")
    ErrSelfChallenge = errors.New("cannot challenge yourself")
    ErrCreatorBusy   = errors.New("challenger is already playing")
)

type Manager struct {
    store   *coord.Store
    arena   *game.Arena
    notify  game.Notifier
    ratings profile.Repository

    mu     sync.Mutex
    byConn map[string]map[string]struct{} // connID -> codes created on it

    coin func() rules.Color
}

func NewManager(store *coord.Store, arena *game.Arena, notify game.Notifier, ratings profile.Repository) *Manager {
    return &Manager{
        store:   store,
        arena:   arena,
        notify:  notify,
        ratings: ratings,
        byConn:  make(map[string]map[string]struct{}),
        coin:    rules.RandomColor,
    }
}

// Create opens a challenge for ident and returns its code.
func (m *Manager) Create(ctx context.Context, ident identity.Identity, connID string, class timecontrol.Class) (string, error) {
    if !class.Valid() {
        return "", timecontrol.ErrUnknownClass
    }
    room, err := m.store.RoomOf(ctx, ident.UserID)
    if err != nil {
        return "", fmt.Errorf("room lookup: %w", err)
    }
    if room != "" {
        return "", &coord.AlreadyPlayingError{UserID: ident.UserID, RoomID: room}
    }
    code, err := m.store.AllocateCode(ctx, coord.KindChallenge)
    if err != nil {
        return "", err
    }
    ch := coord.Challenge{
        Code:        code,
        CreatorID:   ident.UserID,
        CreatorName: ident.Username,
        CreatorConn: connID,
        Class:       class,
        CreatedAt:   time.Now(),
    }
    if err := m.store.PutChallenge(ctx, ch); err != nil {
        _ = m.store.ReleaseCode(ctx, code)
        return "", err
    }
    m.track(connID, code)
    obslog.L().Info("challenge_create",
        zap.String("code", code),
        zap.String("creator", ident.UserID),
        zap.String("time_control", class.String()),
    )
    return code, nil
}

// Cancel deletes the challenge. Unknown codes are ignored.
func (m *Manager) Cancel(ctx context.Context, code string) error {
    code = strings.TrimSpace(code)
    existed, err := m.store.DeleteChallenge(ctx, code)
    if err != nil {
        return err
    }
    m.untrack(code)
    if existed {
        obslog.L().Info("challenge_delete", zap.String("code", code))
    }
    return nil
}

// CancelByConn removes every unredeemed challenge created on connID.
func (m *Manager) CancelByConn(ctx context.Context, connID string) int {
    m.mu.Lock()
    codes := m.byConn[connID]
    delete(m.byConn, connID)
    m.mu.Unlock()

    n := 0
    for code := range codes {
        existed, err := m.store.DeleteChallenge(ctx, code)
        if err != nil {
            obslog.L().Warn("challenge_cancel_failed", zap.String("code", code), zap.Error(err))
            continue
        }
        if existed {
            n++
        }
    }
    if n > 0 {
        obslog.L().Info("challenge_cancel_on_disconnect", zap.String("conn", connID), zap.Int("count", n))
    }
    return n
}

// Redeem pairs ident with the challenge creator. The room takes the challenge code.
func (m *Manager) Redeem(ctx context.Context, code string, ident identity.Identity, connID string) (string, error) {
    code = strings.TrimSpace(code)
    ch, err := m.store.GetChallenge(ctx, code)
    if err != nil {
        return "", err
    }
    if ch == nil {
        return "", ErrNotFound
    }
    if ch.CreatorID == ident.UserID {
        return "", ErrSelfChallenge
    }
    if room, err := m.store.RoomOf(ctx, ident.UserID); err != nil {
        return "", err
    } else if room != "" {
        return "", &coord.AlreadyPlayingError{UserID: ident.UserID, RoomID: room}
    }
    creatorRating, err := m.ratings.GetRating(ctx, ch.CreatorID)
    if err != nil {
        return "", fmt.Errorf("creator rating: %w", err)
    }

    // the claim re-checks existence before the creator, so a lost race reads as not found
    claimed, err := m.store.ClaimChallenge(ctx, code, ident.UserID)
    if err != nil {
        var ap *coord.AlreadyPlayingError
        switch {
        case errors.Is(err, coord.ErrChallengeGone):
            return "", ErrNotFound
        case errors.As(err, &ap) && ap.UserID == ch.CreatorID:
            return "", ErrCreatorBusy
        }
        return "", err
    }
    m.untrack(code)

    p1 := game.Player{UserID: claimed.CreatorID, Username: claimed.CreatorName, Rating: creatorRating, ConnID: claimed.CreatorConn}
    p2 := game.Player{UserID: ident.UserID, Username: ident.Username, Rating: ident.Rating, ConnID: connID}
    if _, err := m.arena.Create(code, claimed.Class, p1, p2, m.coin()); err != nil {
        _ = m.store.ReleaseUsers(ctx, code, p1.UserID, p2.UserID)
        _ = m.store.UnregisterRoom(ctx, code)
        return "", err
    }
    m.notify.Send(p1.ConnID, arenadto.EvMatchFound, arenadto.MatchFound{RoomID: code})
    m.notify.Send(p2.ConnID, arenadto.EvMatchFound, arenadto.MatchFound{RoomID: code})
    obslog.L().Info("challenge_redeem",
        zap.String("room", code),
        zap.String("creator", p1.UserID),
        zap.String("redeemer", p2.UserID),
    )
    return code, nil
}

func (m *Manager) track(connID, code string) {
    if connID == "" {
        return
    }
    m.mu.Lock()
    defer m.mu.Unlock()
    set, ok := m.byConn[connID]
    if !ok {
        set = make(map[string]struct{})
        m.byConn[connID] = set
    }
    set[code] = struct{}{}
}

func (m *Manager) untrack(code string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for conn, set := range m.byConn {
        if _, ok := set[code]; ok {
            delete(set, code)
            if len(set) == 0 {
                delete(m.byConn, conn)
            }
            return
        }
    }
}
