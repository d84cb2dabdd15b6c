package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// IdentityProvider is the external collaborator that owns account
// issuance and session state — out of scope for this service, per
// spec.md §1. AuthHandlers only proxies intent to it.
type IdentityProvider interface {
	SignUp(ctx context.Context, username, password string) (token string, err error)
	Login(ctx context.Context, username, password string) (token string, err error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (newToken string, err error)
	Me(ctx context.Context, token string) (username string, err error)
}

// ErrInvalidCredentials is returned by a Login/SignUp failure that
// should surface as 401, never distinguishing "no such user" from
// "wrong password" to the caller.
var ErrInvalidCredentials = jwt.ErrTokenInvalidClaims

// LocalIdentityProvider is a self-contained stand-in for the real
// identity provider: it issues and validates its own HS256 tokens. Used
// in demo/standalone deployments where no external provider is wired.
type LocalIdentityProvider struct {
	secret string
	ttl    time.Duration
}

func NewLocalIdentityProvider(secret string, ttl time.Duration) *LocalIdentityProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LocalIdentityProvider{secret: secret, ttl: ttl}
}

func (p *LocalIdentityProvider) issue(username string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: username,
		Verified: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.secret))
}

// SignUp always succeeds for a non-empty username in this stand-in;
// real account creation and password storage belong to the external
// provider.
func (p *LocalIdentityProvider) SignUp(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	return p.issue(username)
}

func (p *LocalIdentityProvider) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}
	return p.issue(username)
}

func (p *LocalIdentityProvider) Logout(ctx context.Context, token string) error { return nil }

func (p *LocalIdentityProvider) Refresh(ctx context.Context, token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(p.secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidCredentials
	}
	return p.issue(claims.Username)
}

func (p *LocalIdentityProvider) Me(ctx context.Context, token string) (string, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(p.secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidCredentials
	}
	return claims.Username, nil
}

// AuthHandlers wires /api/auth/* to an IdentityProvider, throttling
// login attempts through AuthThrottle and never distinguishing "no such
// account" from "wrong password" on failure or reset (spec.md §7).
type AuthHandlers struct {
	Provider IdentityProvider
	Throttle *AuthThrottle
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	token, err := h.Provider.SignUp(r.Context(), req.Username, req.Password)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "signup failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := clientAddr(r)
	if h.Throttle != nil && h.Throttle.Blocked(clientIP) {
		writeAuthError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := h.Provider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if h.Throttle != nil {
			h.Throttle.RecordFailure(clientIP)
		}
		log.Warn().Str("remote", clientIP).Msg("auth: login failed")
		writeAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if h.Throttle != nil {
		h.Throttle.RecordSuccess(clientIP)
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	_ = h.Provider.Logout(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	newToken, err := h.Provider.Refresh(r.Context(), token)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: newToken})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	username, err := h.Provider.Me(r.Context(), token)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

// ResetPassword always returns success regardless of account existence,
// per spec.md §7's "never enumerate account existence" rule.
func (h *AuthHandlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
