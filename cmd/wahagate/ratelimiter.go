package main

import (
	"net/http"
	"sync"
	"time"

	"wahagate/internal/errors"
	"wahagate/internal/httputil"
	"wahagate/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter throttles admin API callers per client IP
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Allow reports whether ip may make another request now
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) > rl.idleTTL {
		rl.prune(now)
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// prune forgets clients idle for longer than idleTTL. Caller holds mu.
func (rl *RateLimiter) prune(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, ip)
		}
	}
	rl.lastPrune = now
}

// Clients is the number of tracked client IPs
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects over-limit callers with 429
func (rl *RateLimiter) Middleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.GetClientIP(r)
			if rl.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}
			logger.WithFields(logrus.Fields{
				"remote_ip":  ip,
				"request_id": tracing.GetRequestID(r.Context()),
			}).Warn("Admin API rate limit exceeded")

			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, errors.NewRateLimitError("admin_api", rl.burst, "1s"), tracing.GetRequestID(r.Context()))
		})
	}
}
