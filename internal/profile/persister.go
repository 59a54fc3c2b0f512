package profile

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-arena/internal/obslog"
	"go.uber.org/zap"
)

// Persister applies finished-match outcomes on a single background worker so the
// game path never waits on the database.
type Persister struct {
	repo    Repository
	jobs    chan Outcome
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPersister starts the worker. size bounds the number of pending outcomes.
func NewPersister(repo Repository, size int) *Persister {
	if size <= 0 {
		size = 64
	}
	p := &Persister{
		repo:    repo,
		jobs:    make(chan Outcome, size),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Submit queues o without blocking. It reports false when the outcome was dropped
// because the queue is full or the persister is closed.
func (p *Persister) Submit(o Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		obslog.L().Warn("persist_after_close", zap.String("room", o.RoomID))
		return false
	}
	select {
	case p.jobs <- o:
		return true
	default:
		obslog.L().Error("persist_queue_full", zap.String("room", o.RoomID),
			zap.String("p1", o.Player1), zap.String("p2", o.Player2))
		return false
	}
}

// Close stops intake and waits for queued outcomes to be written or ctx to end.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) run() {
	defer close(p.done)
	for o := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.repo.ApplyOutcome(ctx, o)
		cancel()
		if err != nil {
			obslog.L().Error("persist_outcome_failed", zap.String("room", o.RoomID),
				zap.String("p1", o.Player1), zap.String("p2", o.Player2), zap.Error(err))
			continue
		}
		obslog.L().Info("persist_outcome", zap.String("room", o.RoomID),
			zap.Int("delta1", o.Delta1), zap.Int("delta2", o.Delta2))
	}
}
