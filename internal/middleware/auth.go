package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type contextKey string

const claimsContextKey contextKey = "sentinel_claims"

// Claims is the subset of the identity provider's token claims the
// backend cares about: who the caller is and whether their account has
// cleared verification.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

// BearerAuth validates "Authorization: Bearer <token>" with the
// configured HMAC secret, the same signing-method pinning and
// expiry/not-before checks the original engine's identity layer
// performs, then stores the parsed claims on the request context for
// downstream handlers. Missing or malformed tokens are 401; a
// structurally valid but unverified account is 403.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			var claims Claims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

			if err != nil || !token.Valid {
				log.Warn().Err(err).Msg("auth: token validation failed")
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if !claims.Verified {
				writeAuthError(w, http.StatusForbidden, "account not verified")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, &claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the authenticated caller's claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*Claims)
	return c, ok
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
