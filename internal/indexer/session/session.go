// Package session manages the login lifecycle of indexers that require
// authentication: cookie sessions, expiry, re-login and persistence.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/slipstream/indexarr/internal/indexer/request"
)

// DefaultTTL is used for sessions whose site gives no better expiry hint.
const DefaultTTL = 30 * 24 * time.Hour

// State is the login state of one indexer.
type State int

const (
	StateLoggedOut State = iota
	StateLoggingIn
	StateLoggedIn
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLoggingIn:
		return "logging-in"
	case StateLoggedIn:
		return "logged-in"
	case StateExpired:
		return "expired"
	default:
		return "logged-out"
	}
}

// Session is an authenticated cookie set.
type Session struct {
	Cookies []*http.Cookie
	// ExpiresAt is zero when the session has no client-side expiry.
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Authenticator performs the site-specific login exchange.
type Authenticator interface {
	// Login obtains a fresh session. It must not reuse prior cookies.
	Login(ctx context.Context) (*Session, error)
	// LoginNeeded reports whether resp shows the session is no longer
	// valid, such as a login page served instead of results.
	LoginNeeded(resp *request.Response) bool
}

// Store persists sessions across restarts.
type Store interface {
	// Load returns nil and no error when no session is stored.
	Load(ctx context.Context, indexerID int64) (*Session, error)
	Save(ctx context.Context, indexerID int64, s *Session) error
	Clear(ctx context.Context, indexerID int64) error
}

type cookieRecord struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
}

type sessionRecord struct {
	Cookies   []cookieRecord `json:"cookies"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// MarshalJSON encodes only the cookie fields worth persisting.
func (s *Session) MarshalJSON() ([]byte, error) {
	rec := sessionRecord{ExpiresAt: s.ExpiresAt, Cookies: make([]cookieRecord, 0, len(s.Cookies))}
	for _, c := range s.Cookies {
		rec.Cookies = append(rec.Cookies, cookieRecord{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, Secure: c.Secure, HTTPOnly: c.HttpOnly,
		})
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Session) UnmarshalJSON(data []byte) error {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	s.ExpiresAt = rec.ExpiresAt
	s.Cookies = make([]*http.Cookie, 0, len(rec.Cookies))
	for _, c := range rec.Cookies {
		s.Cookies = append(s.Cookies, &http.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: c.Expires, Secure: c.Secure, HttpOnly: c.HTTPOnly,
		})
	}
	return nil
}

// MergeCookies overlays update onto base by cookie name.
func MergeCookies(base, update []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(base)+len(update))
	index := make(map[string]int)
	for _, c := range append(append([]*http.Cookie{}, base...), update...) {
		if i, ok := index[c.Name]; ok {
			out[i] = c
			continue
		}
		index[c.Name] = len(out)
		out = append(out, c)
	}
	return out
}

// ParseCookieString parses a cookie string like "name1=value1; name2=value2".
func ParseCookieString(cookieStr string) []*http.Cookie {
	var cookies []*http.Cookie

	for _, pair := range strings.Split(cookieStr, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	return cookies
}
