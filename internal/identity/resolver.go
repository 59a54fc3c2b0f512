// Package identity verifies player tokens and resolves them to a rated identity.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/park285/cheese-arena/internal/profile"
)

var ErrUnauthorized = errors.New("unauthorized")

// UserID accepts both numeric and string userId claims.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// Claims carried by player tokens.
type Claims struct {
	UserID   UserID `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity is an authenticated player with the rating read at resolution time.
type Identity struct {
	UserID   string
	Username string
	Rating   int
}

type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	// AllowExpiredInGame skips the exp check for actions inside an ongoing room.
	AllowExpiredInGame bool
}

type Resolver struct {
	cfg     Config
	ratings profile.Repository
}

func NewResolver(cfg Config, ratings profile.Repository) *Resolver {
	return &Resolver{cfg: cfg, ratings: ratings}
}

// Issue signs a token for userID. Used by probes and tests.
func (r *Resolver) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   UserID(userID),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    r.cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if r.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{r.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.cfg.Secret)
}

// Verify parses and fully validates token.
func (r *Resolver) Verify(token string) (*Claims, error) {
	return r.verify(token, false)
}

// VerifyInGame is Verify with the expiry check relaxed when configured.
func (r *Resolver) VerifyInGame(token string) (*Claims, error) {
	return r.verify(token, r.cfg.AllowExpiredInGame)
}

func (r *Resolver) verify(token string, skipExpiry bool) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if skipExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	} else {
		if r.cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(r.cfg.Issuer))
		}
		if r.cfg.Audience != "" {
			opts = append(opts, jwt.WithAudience(r.cfg.Audience))
		}
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	if skipExpiry && r.cfg.Issuer != "" && claims.Issuer != r.cfg.Issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrUnauthorized)
	}
	if strings.TrimSpace(string(claims.UserID)) == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrUnauthorized)
	}
	return claims, nil
}

// Resolve verifies token and reads the player's current rating.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	claims, err := r.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	return r.withRating(ctx, claims)
}

// ResolveInGame is Resolve for in-room actions.
func (r *Resolver) ResolveInGame(ctx context.Context, token string) (Identity, error) {
	claims, err := r.VerifyInGame(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: string(claims.UserID), Username: claims.Username}, nil
}

func (r *Resolver) withRating(ctx context.Context, claims *Claims) (Identity, error) {
	id := Identity{UserID: string(claims.UserID), Username: claims.Username}
	rating, err := r.ratings.GetRating(ctx, id.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("rating for %s: %w", id.UserID, err)
	}
	id.Rating = rating
	return id, nil
}
