package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agentvault/observability"
)

// RateLimit bounds requests for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies token buckets keyed by route group and caller. Callers
// are identified by their authenticated address, falling back to the client
// IP for unauthenticated routes.
type RateLimiter struct {
	limits   map[string]RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	now      func() time.Time
	idleTTL  time.Duration
}

// NewRateLimiter constructs a limiter over the supplied group limits.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		visitors: make(map[string]*rateEntry),
		now:      time.Now,
		idleTTL:  5 * time.Minute,
	}
}

// Middleware throttles requests of group.
func (l *RateLimiter) Middleware(group string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := l.limits[group]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !l.allow(group+"|"+callerKey(r), limit) {
				observability.HTTP().RecordThrottle(group, "rate_limit")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) allow(key string, cfg RateLimit) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	entry, ok := l.visitors[key]
	if !ok {
		perSecond := cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		l.visitors[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *RateLimiter) sweep(now time.Time) {
	for key, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
		}
	}
}

func callerKey(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return p.Address.Hex()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
