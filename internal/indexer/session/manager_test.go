package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slipstream/indexarr/internal/indexer/request"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAuth struct {
	calls   atomic.Int32
	delay   time.Duration
	fail    error
	expires time.Time
	seen    chan struct{}
}

func (f *fakeAuth) Login(ctx context.Context) (*Session, error) {
	n := f.calls.Add(1)
	if f.seen != nil {
		f.seen <- struct{}{}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return &Session{
		Cookies:   []*http.Cookie{{Name: "uid", Value: string(rune('0' + n))}},
		ExpiresAt: f.expires,
	}, nil
}

func (f *fakeAuth) LoginNeeded(resp *request.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAcquireWithoutAuthenticator(t *testing.T) {
	m := NewManager(1, "public", nil, nil, zerolog.Nop())

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Cookies)
	assert.Equal(t, StateLoggedOut, m.State())
}

func TestAcquireLogsInOnce(t *testing.T) {
	clock := newClock()
	auth := &fakeAuth{expires: clock.Now().Add(time.Hour)}
	m := NewManager(1, "site", auth, nil, zerolog.Nop(), WithClock(clock.Now))

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), auth.calls.Load())
	assert.Equal(t, StateLoggedIn, m.State())
}

func TestConcurrentAcquireSharesOneLogin(t *testing.T) {
	auth := &fakeAuth{delay: 50 * time.Millisecond}
	m := NewManager(1, "site", auth, nil, zerolog.Nop())

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Acquire(context.Background())
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.calls.Load())
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestExpiredSessionTriggersLogin(t *testing.T) {
	clock := newClock()
	auth := &fakeAuth{expires: clock.Now().Add(time.Hour)}
	m := NewManager(1, "site", auth, nil, zerolog.Nop(), WithClock(clock.Now))

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, StateExpired, m.State())

	_, err = m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestZeroExpiryGetsDefaultTTL(t *testing.T) {
	clock := newClock()
	m := NewManager(1, "site", &fakeAuth{}, nil, zerolog.Nop(), WithClock(clock.Now))

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL), s.ExpiresAt)
}

func TestConfiguredDefaultTTL(t *testing.T) {
	clock := newClock()
	m := NewManager(1, "site", &fakeAuth{}, nil, zerolog.Nop(), WithClock(clock.Now), WithDefaultTTL(48*time.Hour))

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(48*time.Hour), s.ExpiresAt)
}

func TestReloginReplacesStaleSession(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(1, "site", auth, nil, zerolog.Nop())

	stale, err := m.Acquire(context.Background())
	require.NoError(t, err)

	fresh, err := m.Relogin(context.Background(), stale)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, int32(2), auth.calls.Load())

	// A second caller holding the same stale session gets the fresh one.
	again, err := m.Relogin(context.Background(), stale)
	require.NoError(t, err)
	assert.Same(t, fresh, again)
	assert.Equal(t, int32(2), auth.calls.Load())
}

func TestFailedLoginInvalidatesPriorSession(t *testing.T) {
	store := NewMemoryStore()
	auth := &fakeAuth{}
	m := NewManager(1, "site", auth, store, zerolog.Nop())

	stale, err := m.Acquire(context.Background())
	require.NoError(t, err)

	auth.fail = errors.New("bad password")
	_, err = m.Relogin(context.Background(), stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, StateLoggedOut, m.State())

	stored, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// The next call starts from scratch rather than reusing the old cookies.
	auth.fail = nil
	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, stale, s)
	assert.Equal(t, int32(3), auth.calls.Load())
}

func TestAcquireRestoresStoredSession(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), 7, &Session{
		Cookies:   []*http.Cookie{{Name: "uid", Value: "saved"}},
		ExpiresAt: clock.Now().Add(time.Hour),
	}))

	auth := &fakeAuth{}
	m := NewManager(7, "site", auth, store, zerolog.Nop(), WithClock(clock.Now))

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Cookies, 1)
	assert.Equal(t, "saved", s.Cookies[0].Value)
	assert.Zero(t, auth.calls.Load())
}

func TestAcquireIgnoresExpiredStoredSession(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), 7, &Session{
		Cookies:   []*http.Cookie{{Name: "uid", Value: "saved"}},
		ExpiresAt: clock.Now().Add(-time.Minute),
	}))

	auth := &fakeAuth{}
	m := NewManager(7, "site", auth, store, zerolog.Nop(), WithClock(clock.Now))

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestCanceledWaiterDoesNotAbortLogin(t *testing.T) {
	auth := &fakeAuth{delay: 50 * time.Millisecond, seen: make(chan struct{}, 1)}
	m := NewManager(1, "site", auth, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx)
		errc <- err
	}()

	<-auth.seen
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestInvalidate(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(1, "site", &fakeAuth{}, store, zerolog.Nop())

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(context.Background()))

	assert.Equal(t, StateLoggedOut, m.State())
	stored, err := store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, stored)
}
