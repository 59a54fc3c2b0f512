package coord

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ClientConnected counts one more live connection for clientID. first is true when this
// is the only connection of the client, in which case the total user count was bumped.
func (s *Store) ClientConnected(ctx context.Context, clientID string) (first bool, total int64, err error) {
	n, err := s.rdb.HIncrBy(ctx, s.keyClientConns(), clientID, 1).Result()
	if err != nil {
		return false, 0, err
	}
	if n != 1 {
		total, err = s.TotalUsers(ctx)
		return false, total, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.keyConnectedUsers(), clientID)
	incr := pipe.Incr(ctx, s.keyTotalUsers())
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	return true, incr.Val(), nil
}

// ClientDisconnected drops one connection of clientID. last is true when no connection
// of the client remains, in which case the total user count was decremented.
func (s *Store) ClientDisconnected(ctx context.Context, clientID string) (last bool, total int64, err error) {
	n, err := s.rdb.HIncrBy(ctx, s.keyClientConns(), clientID, -1).Result()
	if err != nil {
		return false, 0, err
	}
	if n > 0 {
		total, err = s.TotalUsers(ctx)
		return false, total, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.keyClientConns(), clientID)
	srem := pipe.SRem(ctx, s.keyConnectedUsers(), clientID)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}
	if srem.Val() == 0 {
		// already gone (unbalanced disconnect); keep the counter untouched
		total, err = s.TotalUsers(ctx)
		return false, total, err
	}
	total, err = s.rdb.Decr(ctx, s.keyTotalUsers()).Result()
	return true, total, err
}

// TotalUsers is the number of distinct connected clients.
func (s *Store) TotalUsers(ctx context.Context) (int64, error) {
	return s.counter(ctx, s.keyTotalUsers())
}

// IncrLiveGames counts a new ongoing room.
func (s *Store) IncrLiveGames(ctx context.Context) (int64, error) {
	return s.rdb.Incr(ctx, s.keyLiveGames()).Result()
}

// DecrLiveGames counts a room reaching its outcome.
func (s *Store) DecrLiveGames(ctx context.Context) (int64, error) {
	n, err := s.rdb.Decr(ctx, s.keyLiveGames()).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		// never report negative games after a flush raced an ending room
		_ = s.rdb.Set(ctx, s.keyLiveGames(), 0, 0).Err()
		return 0, nil
	}
	return n, nil
}

// LiveGames is the number of ongoing rooms.
func (s *Store) LiveGames(ctx context.Context) (int64, error) {
	return s.counter(ctx, s.keyLiveGames())
}

func (s *Store) counter(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
