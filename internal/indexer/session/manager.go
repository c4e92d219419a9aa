package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/slipstream/indexarr/internal/metrics"
)

// DefaultLoginTimeout bounds a single login exchange.
const DefaultLoginTimeout = 30 * time.Second

// ErrLoginFailed wraps every failure returned by an Authenticator.
var ErrLoginFailed = errors.New("login failed")

// Manager owns the session of one indexer. At most one login is in flight at
// a time; concurrent callers wait for it and share its result.
type Manager struct {
	indexerID   int64
	indexerName string
	auth        Authenticator
	store       Store
	logger      zerolog.Logger

	now          func() time.Time
	loginTimeout time.Duration
	defaultTTL   time.Duration

	mu      sync.Mutex
	state   State
	current *Session
	loaded  bool

	group singleflight.Group
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLoginTimeout overrides DefaultLoginTimeout.
func WithLoginTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.loginTimeout = d }
}

// WithDefaultTTL overrides DefaultTTL for sessions without an expiry.
func WithDefaultTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTTL = d
		}
	}
}

// NewManager creates a session manager. auth may be nil for indexers that
// need no login, in which case Acquire always returns an empty session.
// store may be nil to keep sessions in memory only.
func NewManager(indexerID int64, indexerName string, auth Authenticator, store Store, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		indexerID:    indexerID,
		indexerName:  indexerName,
		auth:         auth,
		store:        store,
		logger:       logger.With().Str("component", "session").Int64("indexerId", indexerID).Logger(),
		now:          time.Now,
		loginTimeout: DefaultLoginTimeout,
		defaultTTL:   DefaultTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticator returns the configured authenticator, or nil.
func (m *Manager) Authenticator() Authenticator {
	return m.auth
}

// State reports the current login state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedIn && m.current != nil && m.current.Expired(m.now()) {
		return StateExpired
	}
	return m.state
}

// Acquire returns a valid session, logging in when none is held or the held
// one has expired.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if m.auth == nil {
		return &Session{}, nil
	}

	m.mu.Lock()
	if m.current != nil && !m.current.Expired(m.now()) {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	needLoad := !m.loaded && m.current == nil
	m.loaded = true
	m.mu.Unlock()

	if needLoad && m.store != nil {
		stored, err := m.store.Load(ctx, m.indexerID)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to load stored session")
		} else if stored != nil && !stored.Expired(m.now()) {
			m.mu.Lock()
			if m.current == nil {
				m.current = stored
				m.state = StateLoggedIn
			}
			s := m.current
			m.mu.Unlock()
			m.logger.Debug().Time("expiresAt", stored.ExpiresAt).Msg("Restored stored session")
			return s, nil
		}
	}

	return m.login(ctx, nil)
}

// Relogin discards stale and logs in again. If another caller already
// replaced stale with a fresh session, that session is returned instead.
func (m *Manager) Relogin(ctx context.Context, stale *Session) (*Session, error) {
	if m.auth == nil {
		return &Session{}, nil
	}
	return m.login(ctx, stale)
}

// Invalidate drops the held and stored session.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.state = StateLoggedOut
	m.loaded = true
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx, m.indexerID)
}

func (m *Manager) login(ctx context.Context, stale *Session) (*Session, error) {
	ch := m.group.DoChan("login", func() (any, error) {
		m.mu.Lock()
		if m.current != nil && m.current != stale && !m.current.Expired(m.now()) {
			s := m.current
			m.mu.Unlock()
			return s, nil
		}
		m.current = nil
		m.state = StateLoggingIn
		m.mu.Unlock()

		// The login outlives any single caller so waiters are not failed by
		// the first caller's cancellation.
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loginTimeout)
		defer cancel()

		if m.store != nil {
			if err := m.store.Clear(loginCtx, m.indexerID); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to clear stored session")
			}
		}

		m.logger.Debug().Msg("Logging in")
		s, err := m.auth.Login(loginCtx)
		if err == nil && s == nil {
			err = errors.New("authenticator returned no session")
		}
		if err != nil {
			m.mu.Lock()
			m.state = StateLoggedOut
			m.mu.Unlock()
			metrics.LoginTotal.WithLabelValues(m.indexerName, "failure").Inc()
			m.logger.Warn().Err(err).Msg("Login failed")
			return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = m.now().Add(m.defaultTTL)
		}

		m.mu.Lock()
		m.current = s
		m.state = StateLoggedIn
		m.mu.Unlock()
		metrics.LoginTotal.WithLabelValues(m.indexerName, "success").Inc()
		m.logger.Info().Time("expiresAt", s.ExpiresAt).Msg("Logged in")

		if m.store != nil {
			if err := m.store.Save(loginCtx, m.indexerID, s); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to persist session")
			}
		}
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	}
}
