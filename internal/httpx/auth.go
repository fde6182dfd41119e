package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
)

const (
	RoleAdmin   = "ADMIN"
	RoleSeller  = "SELLER"
	RoleUser    = "USER"
	RoleService = "SERVICE"

	HeaderServiceKey = "X-Service-Key"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Roles  []string
	// Token is the raw bearer token, forwarded to peers acting on the user's behalf.
	Token string
}

func (p Principal) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(p.Roles, r) {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and the internal service key.
type Authenticator struct {
	secret     []byte
	serviceKey string
}

func NewAuthenticator(jwtSecret, serviceKey string) *Authenticator {
	return &Authenticator{secret: []byte(jwtSecret), serviceKey: serviceKey}
}

// SignToken issues a token for userID. Login lives elsewhere; this exists for tooling and tests.
func (a *Authenticator) SignToken(userID string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(raw string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{UserID: claims.Subject, Roles: claims.Roles, Token: raw}, nil
}

// Authenticate accepts either the internal service key or a bearer token. A wrong service key
// is rejected outright rather than falling through to bearer auth.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get(HeaderServiceKey); key != "" {
			if a.serviceKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.serviceKey)) != 1 {
				Fail(w, r, apperr.WithMessage(apperr.ErrUnauthorized, "invalid service key"))
				return
			}
			p := Principal{UserID: "service", Roles: []string{RoleService}}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
			return
		}

		raw, ok := bearer(r)
		if !ok {
			Fail(w, r, apperr.ErrUnauthorized)
			return
		}
		p, err := a.parse(raw)
		if err != nil {
			Fail(w, r, apperr.WithMessage(apperr.ErrUnauthorized, "invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireRoles lets the request through when the principal holds at least one of roles.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				Fail(w, r, apperr.ErrUnauthorized)
				return
			}
			if !p.HasRole(roles...) {
				Fail(w, r, apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
