package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

var _ RateLimiter = (*ClientRateLimiter)(nil)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter implements per-client rate limiting keyed by caller IP.
type ClientRateLimiter struct {
	enabled  bool
	limiters map[string]*clientLimiter
	mu       sync.RWMutex
	rpm      int
	burst    int
	idleTTL  time.Duration
	logger   *logrus.Logger
	metrics  *Metrics
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, metrics *Metrics, logger *logrus.Logger) *ClientRateLimiter {
	return &ClientRateLimiter{
		enabled:  cfg.Enabled,
		limiters: make(map[string]*clientLimiter),
		rpm:      cfg.RequestsPerMinute,
		burst:    cfg.Burst,
		idleTTL:  10 * time.Minute,
		logger:   logger,
		metrics:  metrics,
	}
}

// Allow checks if a client is allowed to make a request
func (r *ClientRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()
	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"client": key,
		}).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset resets the rate limiter for a client
func (r *ClientRateLimiter) Reset(key string) {
	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a client
func (r *ClientRateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()

	r.mu.RLock()
	cl, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		cl.lastSeen = now
		r.mu.Unlock()
		return cl.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cl, exists := r.limiters[key]; exists {
		cl.lastSeen = now
		return cl.limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), r.burst), lastSeen: now}
	r.limiters[key] = cl
	return cl.limiter
}

// Run removes idle limiters until ctx is done.
func (r *ClientRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.sweep(time.Now()); removed > 0 {
				r.logger.WithField("removed", removed).Debug("Pruned idle rate limiters")
			}
		}
	}
}

func (r *ClientRateLimiter) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, cl := range r.limiters {
		if now.Sub(cl.lastSeen) > r.idleTTL {
			delete(r.limiters, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with reject.
func (r *ClientRateLimiter) Middleware(route string, reject http.HandlerFunc) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Allow(ClientIP(req)) {
				if r.metrics != nil {
					r.metrics.RecordRateLimitExceeded(route)
				}
				reject(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// ClientIP returns the caller address, preferring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
