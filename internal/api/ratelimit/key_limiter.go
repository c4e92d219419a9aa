// Package ratelimit throttles API clients by remote address.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 40
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 5 * time.Minute
	MaxLockoutDuration       = time.Hour
)

type client struct {
	limiter        *rate.Limiter
	lastSeen       time.Time
	failedAttempts int
	lockedUntil    time.Time
	lockoutCount   int
}

// KeyLimiter rate limits requests per IP and locks out addresses that keep
// presenting a wrong API key. Lockouts grow with each repeat and are capped
// at MaxLockoutDuration.
type KeyLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time

	perSecond         rate.Limit
	burst             int
	maxFailedAttempts int
	baseLockout       time.Duration
}

// NewKeyLimiter creates a limiter with the default thresholds.
func NewKeyLimiter() *KeyLimiter {
	return &KeyLimiter{
		clients:           make(map[string]*client),
		now:               time.Now,
		perSecond:         DefaultRequestsPerSecond,
		burst:             DefaultBurst,
		maxFailedAttempts: DefaultMaxFailedAttempts,
		baseLockout:       DefaultLockoutDuration,
	}
}

// WithRate overrides the per-IP request rate.
func (l *KeyLimiter) WithRate(perSecond float64, burst int) *KeyLimiter {
	l.perSecond = rate.Limit(perSecond)
	l.burst = burst
	return l
}

// Middleware rejects requests from locked out or over-rate addresses.
func (l *KeyLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if l.IsLocked(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, please try again later")
			}
			if !l.allow(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}
			return next(c)
		}
	}
}

func (l *KeyLimiter) get(ip string) *client {
	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = l.now()
	return c
}

func (l *KeyLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ip).limiter.AllowN(l.now(), 1)
}

// IsLocked reports whether ip is currently locked out.
func (l *KeyLimiter) IsLocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	return ok && l.now().Before(c.lockedUntil)
}

// RecordFailure counts a bad API key from ip.
func (l *KeyLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.get(ip)
	now := l.now()
	if now.After(c.lockedUntil) && c.failedAttempts >= l.maxFailedAttempts {
		c.failedAttempts = 0
	}
	c.failedAttempts++
	if c.failedAttempts >= l.maxFailedAttempts {
		c.lockoutCount++
		c.lockedUntil = now.Add(min(l.baseLockout*time.Duration(c.lockoutCount), MaxLockoutDuration))
	}
}

// RecordSuccess forgets the failures of ip.
func (l *KeyLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.clients[ip]; ok {
		c.failedAttempts = 0
		c.lockoutCount = 0
		c.lockedUntil = time.Time{}
	}
}

// Cleanup drops addresses idle for longer than idle that are not locked out.
// It returns how many were dropped.
func (l *KeyLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > idle && !now.Before(c.lockedUntil) {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}
