package profile

import (
    "context"
    "fmt"
    "strings"
    "sync"
)

// memrepo is an in-memory Repository used when no DATABASE_URL is configured.
type memrepo struct {
    mu sync.RWMutex

    defaultRating int
    profiles      map[string]*Profile // userID -> profile
}

func NewMemoryRepository(defaultRating int) Repository {
    return &memrepo{
        defaultRating: defaultRating,
        profiles:      make(map[string]*Profile),
    }
}

// ensureLocked returns the profile, creating it. m.mu must be held for writing.
func (m *memrepo) ensureLocked(userID string) *Profile {
    key := strings.TrimSpace(userID)
    p, ok := m.profiles[key]
    if !ok || p == nil {
        p = &Profile{UserID: key, Rating: m.defaultRating}
        m.profiles[key] = p
    }
    return p
}

func (m *memrepo) GetRating(ctx context.Context, userID string) (int, error) {
    p, err := m.GetProfile(ctx, userID)
    if err != nil {
        return 0, err
    }
    return p.Rating, nil
}

func (m *memrepo) GetProfile(ctx context.Context, userID string) (*Profile, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    copy := *m.ensureLocked(userID)
    return &copy, nil
}

func (m *memrepo) ApplyRatingDelta(ctx context.Context, userID string, delta int) error {
    m.mu.Lock()
    m.ensureLocked(userID).Rating += delta
    m.mu.Unlock()
    return nil
}

func (m *memrepo) IncrementCounter(ctx context.Context, userID string, kind Counter) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.incrementLocked(userID, kind)
}

func (m *memrepo) incrementLocked(userID string, kind Counter) error {
    switch kind {
    case Wins, Losses, Draws:
    default:
        return fmt.Errorf("%w: %q", ErrUnknownCounter, kind)
    }
    p := m.ensureLocked(userID)
    switch kind {
    case Wins:
        p.Wins++
    case Losses:
        p.Losses++
    case Draws:
        p.Draws++
    }
    return nil
}

func (m *memrepo) ApplyOutcome(ctx context.Context, o Outcome) error {
    c1, c2 := o.Counters()
    m.mu.Lock()
    defer m.mu.Unlock()
    m.ensureLocked(o.Player1).Rating += o.Delta1
    m.ensureLocked(o.Player2).Rating += o.Delta2
    if err := m.incrementLocked(o.Player1, c1); err != nil {
        return err
    }
    return m.incrementLocked(o.Player2, c2)
}

func (m *memrepo) Close() error { return nil }
