package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	userContextKey  contextKey = "user_id"
	roleContextKey  contextKey = "user_role"
	traceContextKey contextKey = "trace_id"
)

// Tokens are minted by the identity provider; the ledger only verifies them.
var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
)

// authClaims carries the owner id of the caller. Wallets are keyed by it, so
// it must be a UUID.
type authClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the verification key.
func JWTSecret() []byte {
	clone := make([]byte, len(jwtSecret))
	copy(clone, jwtSecret)
	return clone
}

func unauthorized(w http.ResponseWriter, r *http.Request, slug, detail string) {
	problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/"+slug), http.StatusText(http.StatusUnauthorized), detail)
}

func parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}
	return opts
}

// AuthMiddleware verifies the bearer token and stores the caller's owner id
// and role on the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, r, "authorization-header-required", "Authorization header required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(w, r, "invalid-token-format", "Invalid token format")
			return
		}
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims := &authClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return jwtSecret, nil
		}, parserOptions()...)
		if err != nil || !token.Valid {
			unauthorized(w, r, "invalid-token", "Invalid token")
			return
		}
		if _, err := uuid.Parse(claims.UserID); err != nil {
			unauthorized(w, r, "invalid-token-claims", "user_id must be a UUID")
			return
		}
		if claims.Subject != "" && claims.Subject != claims.UserID {
			unauthorized(w, r, "invalid-token-claims", "subject does not match user_id")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
		ctx = context.WithValue(ctx, roleContextKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits callers holding any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := allowed[UserRoleFromContext(r.Context())]; !ok {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// UserIDFromContext returns the authenticated owner id, or "".
func UserIDFromContext(ctx context.Context) string { return stringValue(ctx, userContextKey) }

// UserRoleFromContext returns the caller's role, or "".
func UserRoleFromContext(ctx context.Context) string { return stringValue(ctx, roleContextKey) }

// TraceIDFromContext returns the request trace id, or "".
func TraceIDFromContext(ctx context.Context) string { return stringValue(ctx, traceContextKey) }
