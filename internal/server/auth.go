// auth.go - Credential checks for the API key and the admin surface.
package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// secretsEqual compares two secrets in constant time.
func secretsEqual(got, want string) bool {
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return hmac.Equal(g[:], w[:])
}

// apiKeyFromRequest returns the client-supplied API key from either the
// X-API-Key header or the api_key query parameter.
func apiKeyFromRequest(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	return r.URL.Query().Get("api_key")
}

func (s *Server) apiKeyOK(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return false
	}
	k := apiKeyFromRequest(r)
	return k != "" && secretsEqual(k, s.cfg.APIKey)
}

func isBcryptHash(v string) bool {
	return strings.HasPrefix(v, "$2a$") ||
		strings.HasPrefix(v, "$2b$") ||
		strings.HasPrefix(v, "$2y$")
}

// adminCredentialOK accepts either the admin password (plain value or
// bcrypt hash in config) or the API key.
func (s *Server) adminCredentialOK(r *http.Request) bool {
	if pw := r.Header.Get("X-Admin-Password"); pw != "" && s.cfg.AdminPassword != "" {
		if isBcryptHash(s.cfg.AdminPassword) {
			return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPassword), []byte(pw)) == nil
		}
		return secretsEqual(pw, s.cfg.AdminPassword)
	}
	return s.apiKeyOK(r)
}

// requireAdmin gates destructive admin operations behind the lockout
// state machine. While locked, every attempt is rejected with the
// remaining lock time and the credential is never inspected.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminPassword == "" && s.cfg.APIKey == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}

		key := getClientIP(r)
		ctx := r.Context()

		locked, remaining, err := s.guard.Locked(ctx, key)
		if err != nil {
			Error("guard state read failed", map[string]any{"client": key}, err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if locked {
			writeLockout(w, remaining)
			return
		}

		if !s.adminCredentialOK(r) {
			lockedNow, rem, err := s.guard.RecordFailure(ctx, key)
			if err != nil {
				Error("guard state update failed", map[string]any{"client": key}, err)
				http.Error(w, "server error", http.StatusInternalServerError)
				return
			}
			Warn("admin_auth_failed", map[string]any{
				"client": key,
				"path":   r.URL.Path,
				"locked": lockedNow,
			})
			if lockedNow {
				writeLockout(w, rem)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := s.guard.RecordSuccess(ctx, key); err != nil {
			Warn("guard state reset failed", map[string]any{
				"client": key,
				"error":  err.Error(),
			})
		}
		next.ServeHTTP(w, r)
	})
}

func writeLockout(w http.ResponseWriter, remaining time.Duration) {
	secs := int(remaining.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w,
		fmt.Sprintf("Too many failed attempts. Locked for %d more seconds.", secs),
		http.StatusTooManyRequests)
}
