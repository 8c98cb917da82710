package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
)

// Roles carried in the "role" claim.
const (
	RoleAdmin  = "admin"
	RoleBidder = "bidder"
)

// AnyScope in the "scope" claim grants access to every scope.
const AnyScope = "*"

// Claims are the bearer token claims. Subject is the bidder id for bidders
// and an operator name for admins.
type Claims struct {
	Role  string `json:"role"`
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// ClaimsFrom returns the verified claims stored by Authenticator.Middleware.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an Authenticator for secret. A non-empty issuer
// must match the token's "iss" claim.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for subject. It is used by operators and tests to mint
// credentials.
func (a *Authenticator) Issue(subject, role, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  role,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, errors.New("unexpected token issuer")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	switch claims.Role {
	case RoleAdmin, RoleBidder:
	default:
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token. Websocket
// clients that cannot set headers may pass the token as ?access_token=.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
			return
		}
		claims, err := a.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token", "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// requireScope allows the request when the token's scope matches the
// {scope} URL parameter.
func requireScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
			return
		}
		if claims.Scope != AnyScope && claims.Scope != chi.URLParam(r, "scope") {
			writeError(w, http.StatusForbidden, "token is not valid for this scope", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRole allows the request when the token carries role.
func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || claims.Role != role {
				writeError(w, http.StatusForbidden, role+" role required", "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
