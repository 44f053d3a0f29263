// ratelimit.go - Fixed-window rate limiter shared by all public endpoints.
//
// Tracks one window per client IP in an in-memory map. Windows reset
// wholesale when their interval elapses; rejected callers always get a
// positive Retry-After so their backoff never busy-loops.
package server

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateWindow is the per-client fixed window. Not persisted across
// restarts.
type rateWindow struct {
	count   int
	resetAt time.Time
}

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
	limit   int
	window  time.Duration
	now     func() time.Time
}

// newRateLimiter creates a limiter allowing 'limit' hits per 'window'
// per client key and starts its janitor goroutine.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit < 1 {
		limit = 1
	}
	rl := &rateLimiter{
		clients: make(map[string]*rateWindow),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// hit registers one request for the given key. It returns whether the
// request is allowed and, when it is not, the whole seconds until the
// window resets (minimum 1).
func (rl *rateLimiter) hit(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[key]
	if !ok || now.After(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(rl.window)}
		rl.clients[key] = w
	}

	if w.count >= rl.limit {
		retry := int(w.resetAt.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}

	w.count++
	return true, 0
}

// middleware enforces the limit and answers 429 with a Retry-After
// header when it trips.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		allowed, retryAfter := rl.hit(ip)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w,
				fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retryAfter),
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanup periodically drops windows that expired more than one window
// ago, so idle clients do not accumulate.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := rl.now().Add(-rl.window)
		for key, w := range rl.clients {
			if w.resetAt.Before(cutoff) {
				delete(rl.clients, key)
			}
		}
		rl.mu.Unlock()
	}
}

// getClientIP extracts the client's IP address from the request.
// It checks X-Forwarded-For and X-Real-IP headers first (for reverse
// proxies), then falls back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i, c := range xff {
			if c == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// RemoteAddr has the form "ip:port".
	for i := len(r.RemoteAddr) - 1; i >= 0; i-- {
		if r.RemoteAddr[i] == ':' {
			return r.RemoteAddr[:i]
		}
	}

	return r.RemoteAddr
}
