package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

const tokenIssuer = "defcon"

// Claims are the JWT claims accepted by the API. The subject is the
// caller's checksummed address.
type Claims struct {
	jwt.RegisteredClaims
}

type callerKey struct{}

// CallerFromContext returns the authenticated caller placed by
// Authenticator.Middleware.
func CallerFromContext(ctx context.Context) (identity.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(identity.Address)
	return a, ok
}

func withCaller(ctx context.Context, a identity.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

// Authenticator validates HS256 bearer tokens. A nil or secretless
// Authenticator rejects every request.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue mints a token for caller valid for ttl.
func (a *Authenticator) Issue(caller identity.Address, ttl time.Duration) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("authentication not configured: JWT_SECRET is empty")
	}
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   caller.String(),
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses tokenStr and returns the caller it names.
func (a *Authenticator) Validate(tokenStr string) (identity.Address, error) {
	if a == nil || len(a.secret) == 0 {
		return identity.Zero, errors.New("authentication not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return identity.Zero, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return identity.Zero, errors.New("invalid token")
	}
	caller, err := identity.Parse(claims.Subject)
	if err != nil {
		return identity.Zero, fmt.Errorf("token subject: %w", err)
	}
	return caller, nil
}

// Middleware requires a valid bearer token and injects the caller.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteUnauthenticated(w, r, "Missing Authorization header")
			return
		}
		scheme, tokenStr, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenStr == "" {
			WriteUnauthenticated(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		caller, err := a.Validate(tokenStr)
		if err != nil {
			WriteUnauthenticated(w, r, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
	})
}
