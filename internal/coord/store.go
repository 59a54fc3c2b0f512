package coord

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/redis/go-redis/v9"
)

// Store is the shared coordination state kept in Redis: queues, challenges, the room
// registry, the user→room mapping and presence counters.
type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

// Client exposes the underlying connection for health checks.
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) keyQueue(c timecontrol.Class) string   { return s.prefix + "queue:" + strconv.Itoa(int(c)) }
func (s *Store) keyEntries(c timecontrol.Class) string { return s.keyQueue(c) + ":entries" }
func (s *Store) keyChallenges() string                 { return s.prefix + "challenges" }
func (s *Store) keyRooms() string                      { return s.prefix + "rooms" }
func (s *Store) keyUserRoom() string                   { return s.prefix + "user-to-room" }
func (s *Store) keyCode(code string) string            { return s.prefix + "code:" + strings.TrimSpace(code) }
func (s *Store) keyConnectedUsers() string             { return s.prefix + "connected-users" }
func (s *Store) keyClientConns() string                { return s.prefix + "client-conns" }
func (s *Store) keyTotalUsers() string                 { return s.prefix + "total-users" }
func (s *Store) keyLiveGames() string                  { return s.prefix + "live-games" }

// NewClient dials redis:// or rediss:// and pings.
func NewClient(ctx context.Context, raw string) (*redis.Client, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := parseRedisURL(raw)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	// redis.ParseURL handles tls, username and query options
	return redis.ParseURL(raw)
}

// Flush removes every key under the store prefix. Rooms live in process memory, so
// anything left over from a previous run refers to sessions and connections that are gone.
func (s *Store) Flush(ctx context.Context) (int, error) {
	var n int
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return n, err
			}
			n += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return n, err
		}
		n += len(batch)
	}
	return n, nil
}
