// Package auth resolves bearer tokens to users. Tokens are HS256 JWTs issued
// by the identity service; a revocation list rejects tokens that were logged
// out before they expired.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/hexatalk/internal/model"
	"github.com/Tyrowin/hexatalk/internal/store"
)

var (
	ErrMissingToken = errors.New("no authorization header")
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token has been revoked")
	ErrUnknownUser  = errors.New("user not found")
)

// Claims carries the user identity. UserID mirrors the subject under the
// "_id" key older clients read.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	UserID   string `json:"_id"`
	jwt.RegisteredClaims
}

// UserFinder looks users up by id.
type UserFinder interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
}

// Revocations is a list of tokens that must be refused until they expire.
type Revocations interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, expiresAt time.Time) error
}

// Authenticator validates tokens and resolves them to users.
type Authenticator struct {
	secret  []byte
	users   UserFinder
	revoked Revocations
	now     func() time.Time
}

func NewAuthenticator(secret string, users UserFinder, revoked Revocations) *Authenticator {
	return &Authenticator{
		secret:  []byte(secret),
		users:   users,
		revoked: revoked,
		now:     time.Now,
	}
}

// Resolve validates token and returns its user. The returned error wraps one
// of ErrMissingToken, ErrInvalidToken, ErrRevokedToken or ErrUnknownUser,
// or is a lookup failure.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.parse(token)
	if err != nil {
		return nil, err
	}

	if a.revoked != nil {
		revoked, err := a.revoked.IsRevoked(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if !model.ValidID(id) {
		return nil, ErrInvalidToken
	}

	user, err := a.users.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Issue signs a token for u valid for ttl. Login lives elsewhere; this
// exists for tooling and tests.
func (a *Authenticator) Issue(u *model.User, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Username: u.Username,
		Email:    u.Email,
		UserID:   u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Revoke adds token to the revocation list until it would have expired.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	if a.revoked == nil {
		return errors.New("no revocation list configured")
	}
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	expires := a.now().Add(24 * time.Hour)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return a.revoked.Revoke(ctx, token, expires)
}

// TokenFromRequest extracts the bearer credential from, in order, the
// Authorization header, the token query parameter and the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}
