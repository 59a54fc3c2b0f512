package coord

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const codeAttempts = 16

var (
	codeMin  = big.NewInt(1_000_000_000)
	codeSpan = big.NewInt(9_000_000_000)
)

// codeGen returns a random 10-digit decimal code.
func codeGen() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Add(n, codeMin).Int64(), 10), nil
}

// AllocateCode reserves a code in the namespace shared by rooms and challenges.
// The reservation lives until ReleaseCode.
func (s *Store) AllocateCode(ctx context.Context, kind string) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		c, err := codeGen()
		if err != nil {
			return "", err
		}
		ok, err := s.rdb.SetNX(ctx, s.keyCode(c), kind, 0).Result()
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		// reservation keys are authoritative, but a code registered without one must not be reused
		inRooms, err := s.rdb.SIsMember(ctx, s.keyRooms(), c).Result()
		if err != nil {
			_ = s.ReleaseCode(ctx, c)
			return "", err
		}
		inChallenges, err := s.rdb.HExists(ctx, s.keyChallenges(), c).Result()
		if err != nil {
			_ = s.ReleaseCode(ctx, c)
			return "", err
		}
		if inRooms || inChallenges {
			_ = s.ReleaseCode(ctx, c)
			continue
		}
		return c, nil
	}
	obslog.L().Warn("code_allocate_exhausted", zap.String("kind", kind), zap.Int("attempts", codeAttempts))
	return "", ErrCodeExhausted
}

// ReleaseCode frees a reserved code.
func (s *Store) ReleaseCode(ctx context.Context, code string) error {
	return s.rdb.Del(ctx, s.keyCode(code)).Err()
}

// CodeKind returns the reservation kind, or "" when the code is free.
func (s *Store) CodeKind(ctx context.Context, code string) (string, error) {
	v, err := s.rdb.Get(ctx, s.keyCode(code)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
