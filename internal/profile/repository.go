package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_infos (
	user_id    TEXT PRIMARY KEY,
	rating     INTEGER NOT NULL DEFAULT 1000,
	wins       INTEGER NOT NULL DEFAULT 0,
	losses     INTEGER NOT NULL DEFAULT 0,
	draws      INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP
)`

const (
	qEnsure = `INSERT INTO user_infos (user_id, rating, wins, losses, draws, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3)
		ON CONFLICT (user_id) DO NOTHING`
	qSelect     = `SELECT user_id, rating, wins, losses, draws FROM user_infos WHERE user_id = $1`
	qApplyDelta = `UPDATE user_infos SET rating = rating + $1, updated_at = $2 WHERE user_id = $3`
	qIncrWins   = `UPDATE user_infos SET wins = wins + 1, updated_at = $1 WHERE user_id = $2`
	qIncrLosses = `UPDATE user_infos SET losses = losses + 1, updated_at = $1 WHERE user_id = $2`
	qIncrDraws  = `UPDATE user_infos SET draws = draws + 1, updated_at = $1 WHERE user_id = $2`
)

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository stores profiles in the user_infos table. Queries are written for
// Postgres and rebound for SQLite.
type SQLRepository struct {
	db            *sql.DB
	sqlite        bool
	defaultRating int
	now           func() time.Time
}

// NewSQLRepository opens a Postgres pool via lib/pq and pings it.
func NewSQLRepository(databaseURL string, defaultRating int) (*SQLRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLRepositoryFromDB(db, "postgres", defaultRating), nil
}

// NewSQLRepositoryFromDB wraps an open pool. driver selects placeholder style.
func NewSQLRepositoryFromDB(db *sql.DB, driver string, defaultRating int) *SQLRepository {
	return &SQLRepository{
		db:            db,
		sqlite:        strings.HasPrefix(driver, "sqlite"),
		defaultRating: defaultRating,
		now:           time.Now,
	}
}

// EnsureSchema creates user_infos when missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *SQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLRepository) q(query string) string {
	if !r.sqlite {
		return query
	}
	return dollarParam.ReplaceAllString(query, "?$1")
}

func (r *SQLRepository) ensure(ctx context.Context, ex execer, userID string) error {
	if _, err := ex.ExecContext(ctx, r.q(qEnsure), userID, r.defaultRating, r.now()); err != nil {
		return fmt.Errorf("ensure profile %s: %w", userID, err)
	}
	return nil
}

func (r *SQLRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if err := r.ensure(ctx, r.db, userID); err != nil {
		return nil, err
	}
	var p Profile
	err := r.db.QueryRowContext(ctx, r.q(qSelect), userID).Scan(&p.UserID, &p.Rating, &p.Wins, &p.Losses, &p.Draws)
	if err != nil {
		return nil, fmt.Errorf("select profile %s: %w", userID, err)
	}
	return &p, nil
}

func (r *SQLRepository) GetRating(ctx context.Context, userID string) (int, error) {
	p, err := r.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Rating, nil
}

func (r *SQLRepository) ApplyRatingDelta(ctx context.Context, userID string, delta int) error {
	return r.applyDelta(ctx, r.db, userID, delta)
}

func (r *SQLRepository) applyDelta(ctx context.Context, ex execer, userID string, delta int) error {
	if err := r.ensure(ctx, ex, userID); err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, r.q(qApplyDelta), delta, r.now(), userID); err != nil {
		return fmt.Errorf("apply rating delta %s: %w", userID, err)
	}
	return nil
}

func (r *SQLRepository) IncrementCounter(ctx context.Context, userID string, kind Counter) error {
	return r.increment(ctx, r.db, userID, kind)
}

func (r *SQLRepository) increment(ctx context.Context, ex execer, userID string, kind Counter) error {
	var query string
	switch kind {
	case Wins:
		query = qIncrWins
	case Losses:
		query = qIncrLosses
	case Draws:
		query = qIncrDraws
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCounter, kind)
	}
	if err := r.ensure(ctx, ex, userID); err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, r.q(query), r.now(), userID); err != nil {
		return fmt.Errorf("increment %s for %s: %w", kind, userID, err)
	}
	return nil
}

func (r *SQLRepository) ApplyOutcome(ctx context.Context, o Outcome) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	c1, c2 := o.Counters()
	if err = r.applyDelta(ctx, tx, o.Player1, o.Delta1); err != nil {
		return err
	}
	if err = r.applyDelta(ctx, tx, o.Player2, o.Delta2); err != nil {
		return err
	}
	if err = r.increment(ctx, tx, o.Player1, c1); err != nil {
		return err
	}
	if err = r.increment(ctx, tx, o.Player2, c2); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}
