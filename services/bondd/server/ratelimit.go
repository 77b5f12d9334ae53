package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bondvault/observability"
)

// RateLimitConfig bounds per-client request rates. A zero rate disables
// limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	cfg      RateLimitConfig
	idle     time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		cfg:      cfg,
		idle:     5 * time.Minute,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

// Allow reports whether the client identified by id may proceed.
func (r *RateLimiter) Allow(id string) bool {
	if r == nil || r.cfg.RequestsPerSecond <= 0 {
		return true
	}
	now := r.clockNow()
	r.mu.Lock()
	for key, v := range r.visitors {
		if now.Sub(v.seen) > r.idle {
			delete(r.visitors, key)
		}
	}
	v, ok := r.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)}
		r.visitors[id] = v
	}
	v.seen = now
	r.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Middleware rejects clients over their budget with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow(clientID(req)) {
			observability.ModuleMetrics().RecordThrottle(req.URL.Path, "rate_limit")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
