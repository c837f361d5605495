// Package auth resolves bearer tokens to user ids. Tokens are issued by the
// identity provider; this package only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store/supabase"
)

// Identity is the verified subject of a token.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks a bearer token. Rejected tokens yield an error wrapping
// errors.Unauthorized; an unreachable provider yields domain.Unavailable.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims are the Supabase access token claims the portal reads.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// JWTVerifier checks HS256 tokens signed with the project's JWT secret.
type JWTVerifier struct {
	secret   []byte
	audience string
	clock    clock.Clock
}

func NewJWTVerifier(secret, audience string, clk clock.Clock) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), audience: audience, clock: clk}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Issue signs a token for userID. It backs the benchmark tool and tests.
func Issue(secret, audience, userID string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "authenticated",
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SupabaseVerifier asks the Supabase Auth API who a token belongs to.
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(client *supabase.Client) *SupabaseVerifier {
	return &SupabaseVerifier{client: client}
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	user, err := v.client.GetUser(ctx, token)
	if err != nil {
		var apiErr *supabase.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return Identity{}, fmt.Errorf("%w: %s", domain.ErrInvalidToken, apiErr.Message)
		}
		return Identity{}, domain.UnavailableError("verify token", err)
	}
	if user.ID == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}
	return Identity{UserID: user.ID, Email: user.Email}, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", domain.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", domain.ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
