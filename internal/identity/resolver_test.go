package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(allowExpired bool) (*Resolver, profile.Repository) {
	repo := profile.NewMemoryRepository(1000)
	return NewResolver(Config{
		Secret:             []byte("test-secret"),
		Issuer:             "arena",
		AllowExpiredInGame: allowExpired,
	}, repo), repo
}

func TestResolveReadsRating(t *testing.T) {
	r, repo := newResolver(false)
	ctx := context.Background()
	require.NoError(t, repo.ApplyRatingDelta(ctx, "42", 200))

	tok, err := r.Issue("42", "alice", time.Hour)
	require.NoError(t, err)
	id, err := r.Resolve(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "42", Username: "alice", Rating: 1200}, id)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	r, _ := newResolver(false)
	other := NewResolver(Config{Secret: []byte("other"), Issuer: "arena"}, nil)
	forged, _ := other.Issue("1", "mallory", time.Hour)

	for name, tok := range map[string]string{
		"empty":   "",
		"garbage": "not.a.jwt",
		"forged":  forged,
	} {
		_, err := r.Verify(tok)
		assert.True(t, errors.Is(err, ErrUnauthorized), name)
	}
}

func TestNumericUserIDClaim(t *testing.T) {
	r, _ := newResolver(false)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   17,
		"username": "bob",
		"iss":      "arena",
		"exp":      time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	claims, err := r.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, UserID("17"), claims.UserID)
}

func TestExpiredTokenInGame(t *testing.T) {
	strict, _ := newResolver(false)
	lenient, _ := newResolver(true)
	tok, err := lenient.Issue("42", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = strict.VerifyInGame(tok)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	_, err = lenient.Verify(tok)
	assert.True(t, errors.Is(err, ErrUnauthorized), "matchmaking still enforces expiry")

	id, err := lenient.ResolveInGame(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "42", id.UserID)
}
