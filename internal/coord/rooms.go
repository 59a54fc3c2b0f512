package coord

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// releaseUsers deletes user→room entries that still point at ARGV[1].
var releaseUsers = redis.NewScript(`
local n = 0
for i = 2, #ARGV do
  if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[1] then
    n = n + redis.call('HDEL', KEYS[1], ARGV[i])
  end
end
return n
`)

// PutChallenge stores ch under its code.
func (s *Store) PutChallenge(ctx context.Context, ch Challenge) error {
	raw, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return s.rdb.HSet(ctx, s.keyChallenges(), ch.Code, raw).Err()
}

// GetChallenge returns the challenge or nil when the code is unknown.
func (s *Store) GetChallenge(ctx context.Context, code string) (*Challenge, error) {
	raw, err := s.rdb.HGet(ctx, s.keyChallenges(), code).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// DeleteChallenge removes the challenge and its code reservation. Deleting an unknown
// code is not an error; the result reports whether a challenge existed.
func (s *Store) DeleteChallenge(ctx context.Context, code string) (bool, error) {
	n, err := s.rdb.HDel(ctx, s.keyChallenges(), code).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		if err := s.ReleaseCode(ctx, code); err != nil {
			return true, err
		}
	}
	return n > 0, nil
}

// ClaimChallenge atomically consumes the challenge stored under code for redeemerID:
// the challenge is deleted, both players are mapped to the code as their room, and the
// room is registered. The consumed challenge is returned.
func (s *Store) ClaimChallenge(ctx context.Context, code, redeemerID string) (*Challenge, error) {
	chk, uk := s.keyChallenges(), s.keyUserRoom()
	var claimed *Challenge
	claim := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, chk, code).Result()
		if errors.Is(err, redis.Nil) {
			return ErrChallengeGone
		}
		if err != nil {
			return err
		}
		var ch Challenge
		if err := json.Unmarshal([]byte(raw), &ch); err != nil {
			return err
		}
		for _, uid := range []string{ch.CreatorID, redeemerID} {
			room, err := tx.HGet(ctx, uk, uid).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if room != "" {
				return &AlreadyPlayingError{UserID: uid, RoomID: room}
			}
		}
		pipe := tx.TxPipeline()
		pipe.HDel(ctx, chk, code)
		pipe.HSet(ctx, uk, ch.CreatorID, code, redeemerID, code)
		pipe.SAdd(ctx, s.keyRooms(), code)
		pipe.Set(ctx, s.keyCode(code), KindRoom, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		claimed = &ch
		return nil
	}
	if err := s.watchRetry(ctx, claim, chk, uk); err != nil {
		return nil, err
	}
	return claimed, nil
}

// RoomOf returns the room userID is mapped to, or "".
func (s *Store) RoomOf(ctx context.Context, userID string) (string, error) {
	room, err := s.rdb.HGet(ctx, s.keyUserRoom(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return room, err
}

// ReleaseUsers removes the user→room entries of userIDs that still point at roomID.
func (s *Store) ReleaseUsers(ctx context.Context, roomID string, userIDs ...string) error {
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, roomID)
	for _, u := range userIDs {
		args = append(args, u)
	}
	return releaseUsers.Run(ctx, s.rdb, []string{s.keyUserRoom()}, args...).Err()
}

// UnregisterRoom drops roomID from the registry and frees its code.
func (s *Store) UnregisterRoom(ctx context.Context, roomID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, s.keyRooms(), roomID)
	pipe.Del(ctx, s.keyCode(roomID))
	_, err := pipe.Exec(ctx)
	return err
}

// RoomRegistered reports whether roomID is in the registry.
func (s *Store) RoomRegistered(ctx context.Context, roomID string) (bool, error) {
	return s.rdb.SIsMember(ctx, s.keyRooms(), roomID).Result()
}
