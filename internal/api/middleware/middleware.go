// Package middleware holds the echo middleware shared by the API routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexarr/internal/metrics"
)

// HeaderAPIKey is the header the *arr applications send their key in.
const HeaderAPIKey = "X-Api-Key"

// FailureRecorder is told about every request carrying a bad key.
type FailureRecorder interface {
	RecordFailure(ip string)
	RecordSuccess(ip string)
}

// SecurityHeaders sets the response headers every API reply carries.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")

			// Search results and keys must never be cached by proxies.
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
			return next(c)
		}
	}
}

// RequestKey extracts the API key from the X-Api-Key header, the apikey
// query parameter or a Bearer token, in that order.
func RequestKey(c echo.Context) string {
	if key := c.Request().Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	if key := c.QueryParam("apikey"); key != "" {
		return key
	}
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// KeyMatches compares a presented key against the configured one in
// constant time.
func KeyMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// APIKey rejects requests without the configured key. An empty key
// disables the check.
func APIKey(expected string, recorder FailureRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				return next(c)
			}
			if !KeyMatches(RequestKey(c), expected) {
				metrics.APIKeyFailures.Inc()
				if recorder != nil {
					recorder.RecordFailure(c.RealIP())
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			if recorder != nil {
				recorder.RecordSuccess(c.RealIP())
			}
			return next(c)
		}
	}
}
