package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestLimiter() (*KeyLimiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewKeyLimiter()
	l.now = c.now
	return l, c
}

func TestKeyLimiterLocksOutAfterFailures(t *testing.T) {
	l, c := newTestLimiter()

	for range DefaultMaxFailedAttempts - 1 {
		l.RecordFailure("10.0.0.1")
	}
	assert.False(t, l.IsLocked("10.0.0.1"))

	l.RecordFailure("10.0.0.1")
	assert.True(t, l.IsLocked("10.0.0.1"))
	assert.False(t, l.IsLocked("10.0.0.2"))

	c.t = c.t.Add(DefaultLockoutDuration + time.Second)
	assert.False(t, l.IsLocked("10.0.0.1"))

	// A second lockout lasts twice as long.
	for range DefaultMaxFailedAttempts {
		l.RecordFailure("10.0.0.1")
	}
	c.t = c.t.Add(DefaultLockoutDuration + time.Second)
	assert.True(t, l.IsLocked("10.0.0.1"))
}

func TestKeyLimiterSuccessResets(t *testing.T) {
	l, _ := newTestLimiter()
	for range DefaultMaxFailedAttempts {
		l.RecordFailure("10.0.0.1")
	}
	l.RecordSuccess("10.0.0.1")
	assert.False(t, l.IsLocked("10.0.0.1"))
}

func TestKeyLimiterCleanup(t *testing.T) {
	l, c := newTestLimiter()
	l.RecordFailure("10.0.0.1")
	for range DefaultMaxFailedAttempts {
		l.RecordFailure("10.0.0.2")
	}

	c.t = c.t.Add(2 * time.Minute)
	assert.Equal(t, 1, l.Cleanup(time.Minute), "locked out addresses are kept")
	assert.True(t, l.IsLocked("10.0.0.2"))
}

func TestKeyLimiterMiddleware(t *testing.T) {
	l, _ := newTestLimiter()
	l.WithRate(1, 2)

	e := echo.New()
	e.Use(l.Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
