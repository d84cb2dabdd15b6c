package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/arc-sentinel/sentinel/pkg/metrics"
)

// AuthThrottle is an in-process per-IP failed-login counter, the
// in-memory analogue of the teacher's Redis-backed RateLimiter.Limit:
// same "count recent hits in a window, deny past a threshold" shape,
// adapted here to auth attempts and with no external store, since a
// single sentinel instance is the whole deployment unit (spec.md §6).
type AuthThrottle struct {
	mu          sync.Mutex
	attempts    map[string][]time.Time
	maxAttempts int
	window      time.Duration
}

func NewAuthThrottle(maxAttempts int, window time.Duration) *AuthThrottle {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &AuthThrottle{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Blocked reports whether clientID has exceeded the failed-attempt
// threshold within the current window.
func (t *AuthThrottle) Blocked(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(clientID)
	return len(t.attempts[clientID]) >= t.maxAttempts
}

// RecordFailure appends a failed attempt timestamp for clientID.
func (t *AuthThrottle) RecordFailure(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(clientID)
	t.attempts[clientID] = append(t.attempts[clientID], time.Now())
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
}

// RecordSuccess clears clientID's failure history, matching the
// original engine's "a successful login resets the lockout counter"
// behavior.
func (t *AuthThrottle) RecordSuccess(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, clientID)
	metrics.AuthAttempts.WithLabelValues("success").Inc()
}

func (t *AuthThrottle) evict(clientID string) {
	cutoff := time.Now().Add(-t.window)
	kept := t.attempts[clientID][:0]
	for _, at := range t.attempts[clientID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(t.attempts, clientID)
		return
	}
	t.attempts[clientID] = kept
}

func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
