package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// KeyFunc derives the rate limit bucket for a request.
type KeyFunc func(r *http.Request) string

// RateLimiter is a fixed-window, single-process limiter. Use RedisRateLimiter when
// more than one instance serves traffic.
type RateLimiter struct {
	limit     int
	window    time.Duration
	key       KeyFunc
	now       func() time.Time
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(limit int, window time.Duration, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		key:      key,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(rl.key(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.window {
		for k, v := range rl.visitors {
			if now.After(v.resetTime) {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		rl.visitors[key] = &visitor{count: 1, resetTime: now.Add(rl.window)}
		return true
	}
	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

// ClientIP keys by the first X-Forwarded-For hop, falling back to the peer address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// PathValueKey keys by a route wildcard (e.g. the tenant id) plus client IP.
func PathValueKey(name string) KeyFunc {
	return func(r *http.Request) string {
		return r.PathValue(name) + "|" + ClientIP(r)
	}
}
