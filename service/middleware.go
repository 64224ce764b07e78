package service

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Authenticator gates mutating endpoints behind a static bearer-token
// allowlist. Tokens are compared in constant time.
type Authenticator struct {
	tokens []string
}

func NewAuthenticator(tokens []string) *Authenticator {
	trimmed := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if cleaned := strings.TrimSpace(token); cleaned != "" {
			trimmed = append(trimmed, cleaned)
		}
	}
	return &Authenticator{tokens: trimmed}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			Metrics().ObserveRejection("missing_token")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if !a.allowed(token) {
			Metrics().ObserveRejection("invalid_token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) allowed(token string) bool {
	for _, candidate := range a.tokens {
		if len(candidate) == len(token) &&
			subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks a token bucket per client address and refuses
// requests once the bucket is drained.
type RateLimiter struct {
	perSecond float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: perSecond,
		burst:     burst,
		visitors:  make(map[string]*rateEntry),
		clockNow:  time.Now,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.obtainLimiter(clientID(r))
		if !limiter.Allow() {
			Metrics().ObserveRejection("rate_limited")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clockNow()
	if entry, ok := rl.visitors[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
	rl.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	rl.evictStale(now)
	return limiter
}

// evictStale drops buckets idle for more than ten minutes. Called with
// the lock held.
func (rl *RateLimiter) evictStale(now time.Time) {
	for id, entry := range rl.visitors {
		if now.Sub(entry.lastSeen) > 10*time.Minute {
			delete(rl.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			first = forwarded[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
