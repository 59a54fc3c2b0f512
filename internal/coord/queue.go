package coord

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/park285/cheese-arena/internal/timecontrol"
	"github.com/redis/go-redis/v9"
)

const claimRetries = 5

// Enqueue inserts or refreshes e in the queue of class c, scored by rating.
func (s *Store) Enqueue(ctx context.Context, c timecontrol.Class, e QueueEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.keyEntries(c), e.UserID, raw)
	pipe.ZAdd(ctx, s.keyQueue(c), redis.Z{Score: float64(e.Rating), Member: e.UserID})
	_, err = pipe.Exec(ctx)
	return err
}

// Dequeue removes userID from the queue. It reports whether an entry was removed.
func (s *Store) Dequeue(ctx context.Context, c timecontrol.Class, userID string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	rem := pipe.ZRem(ctx, s.keyQueue(c), userID)
	pipe.HDel(ctx, s.keyEntries(c), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return rem.Val() > 0, nil
}

// QueueEntries returns the queue ordered by rating, lowest first.
func (s *Store) QueueEntries(ctx context.Context, c timecontrol.Class) ([]QueueEntry, error) {
	ids, err := s.rdb.ZRange(ctx, s.keyQueue(c), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := s.rdb.HMGet(ctx, s.keyEntries(c), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]QueueEntry, 0, len(ids))
	var orphans []any
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			orphans = append(orphans, ids[i])
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			orphans = append(orphans, ids[i])
			continue
		}
		out = append(out, e)
	}
	if len(orphans) > 0 {
		_ = s.rdb.ZRem(ctx, s.keyQueue(c), orphans...).Err()
	}
	return out, nil
}

// QueueLen is the number of queued players in class c.
func (s *Store) QueueLen(ctx context.Context, c timecontrol.Class) (int64, error) {
	return s.rdb.ZCard(ctx, s.keyQueue(c)).Result()
}

// ClaimPair atomically takes a and b out of the queue, maps both to roomID and
// registers the room. It fails with ErrNotQueued when either left the queue and with
// *AlreadyPlayingError when either already holds a room.
func (s *Store) ClaimPair(ctx context.Context, c timecontrol.Class, a, b QueueEntry, roomID string) error {
	qk, ek, uk := s.keyQueue(c), s.keyEntries(c), s.keyUserRoom()
	claim := func(tx *redis.Tx) error {
		for _, e := range []QueueEntry{a, b} {
			if err := tx.ZScore(ctx, qk, e.UserID).Err(); err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotQueued
				}
				return err
			}
			room, err := tx.HGet(ctx, uk, e.UserID).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if room != "" {
				return &AlreadyPlayingError{UserID: e.UserID, RoomID: room}
			}
		}
		pipe := tx.TxPipeline()
		pipe.ZRem(ctx, qk, a.UserID, b.UserID)
		pipe.HDel(ctx, ek, a.UserID, b.UserID)
		pipe.HSet(ctx, uk, a.UserID, roomID, b.UserID, roomID)
		pipe.SAdd(ctx, s.keyRooms(), roomID)
		_, err := pipe.Exec(ctx)
		return err
	}
	return s.watchRetry(ctx, claim, qk, uk)
}

func (s *Store) watchRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < claimRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrClaimConflict
}
