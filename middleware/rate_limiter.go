// middleware/rate_limiter.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/HSouheill/barrim_referrals/models"
)

type endpointLimit struct {
	limit rate.Limit
	burst int
}

// RateLimiter throttles per client IP and route. Routes without their own
// limit share the default bucket of the IP. A client that exhausts a bucket
// is blocked for blockDuration.
type RateLimiter struct {
	limiters       map[string]*rate.Limiter
	blockedIPs     map[string]time.Time
	mu             sync.Mutex
	defaultLimit   endpointLimit
	blockDuration  time.Duration
	endpointLimits map[string]endpointLimit
	now            func() time.Time
	stop           chan struct{}
}

func NewRateLimiter() *RateLimiter {
	limiter := &RateLimiter{
		limiters:      make(map[string]*rate.Limiter),
		blockedIPs:    make(map[string]time.Time),
		defaultLimit:  endpointLimit{limit: rate.Every(100 * time.Millisecond), burst: 20},
		blockDuration: 5 * time.Minute,
		endpointLimits: map[string]endpointLimit{
			// Public invitation endpoints are unauthenticated and guessable.
			"/api/invitations/:code":         {limit: rate.Every(500 * time.Millisecond), burst: 10},
			"/api/invitations/:code/accept":  {limit: rate.Every(2 * time.Second), burst: 5},
			"/api/invitations/:code/decline": {limit: rate.Every(2 * time.Second), burst: 5},
			"/api/promoter/invitations":      {limit: rate.Every(200 * time.Millisecond), burst: 20},
		},
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go limiter.cleanupBlockedIPs()
	return limiter
}

// SetEndpointLimit overrides the limit of one route pattern.
func (r *RateLimiter) SetEndpointLimit(path string, limit rate.Limit, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpointLimits[path] = endpointLimit{limit: limit, burst: burst}
}

// Stop ends the cleanup goroutine.
func (r *RateLimiter) Stop() {
	close(r.stop)
}

func (r *RateLimiter) cleanupBlockedIPs() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		now := r.now()
		for ip, blockUntil := range r.blockedIPs {
			if now.After(blockUntil) {
				delete(r.blockedIPs, ip)
			}
		}
		// Buckets refill on their own; dropping them only bounds memory.
		r.limiters = make(map[string]*rate.Limiter)
		r.mu.Unlock()
	}
}

func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			r.mu.Lock()
			if blockUntil, blocked := r.blockedIPs[ip]; blocked {
				if r.now().Before(blockUntil) {
					r.mu.Unlock()
					return tooManyRequests(c, blockUntil)
				}
				delete(r.blockedIPs, ip)
			}
			limiter := r.limiterFor(ip, c.Path())
			r.mu.Unlock()

			if !limiter.Allow() {
				blockUntil := r.now().Add(r.blockDuration)
				r.mu.Lock()
				r.blockedIPs[ip] = blockUntil
				r.mu.Unlock()
				return tooManyRequests(c, blockUntil)
			}
			return next(c)
		}
	}
}

// limiterFor must be called with r.mu held.
func (r *RateLimiter) limiterFor(ip, path string) *rate.Limiter {
	cfg, ok := r.endpointLimits[path]
	key := ip
	if ok {
		key = ip + " " + path
	} else {
		cfg = r.defaultLimit
	}
	limiter, exists := r.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(cfg.limit, cfg.burst)
		r.limiters[key] = limiter
	}
	return limiter
}

func tooManyRequests(c echo.Context, retryAfter time.Time) error {
	return c.JSON(http.StatusTooManyRequests, models.Response{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
		Data:    map[string]string{"retryAfter": retryAfter.Format(time.RFC3339)},
	})
}
