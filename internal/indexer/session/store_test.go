package session

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/testutil"
)

func storeRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	missing, err := store.Load(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, missing)

	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &Session{
		Cookies: []*http.Cookie{
			{Name: "uid", Value: "123", Path: "/", HttpOnly: true},
			{Name: "pass", Value: "abc"},
		},
		ExpiresAt: expires,
	}
	require.NoError(t, store.Save(ctx, 42, in))

	out, err := store.Load(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, expires.Equal(out.ExpiresAt))
	require.Len(t, out.Cookies, 2)
	assert.Equal(t, "uid", out.Cookies[0].Name)
	assert.Equal(t, "123", out.Cookies[0].Value)
	assert.True(t, out.Cookies[0].HttpOnly)

	require.NoError(t, store.Clear(ctx, 42))
	cleared, err := store.Load(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestMemoryStore(t *testing.T) {
	storeRoundTrip(t, NewMemoryStore())
}

func TestSQLStore(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	storeRoundTrip(t, NewSQLStore(tdb.Conn))
}

func TestBoltStore(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	storeRoundTrip(t, store)
}

func purgeExpired(t *testing.T, store interface {
	Store
	Purger
}) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, 1, &Session{ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, store.Save(ctx, 2, &Session{ExpiresAt: now.Add(time.Hour)}))

	n, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Load(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSQLStorePurgeExpired(t *testing.T) {
	purgeExpired(t, NewSQLStore(testutil.NewTestDB(t).Conn))
}

func TestBoltStorePurgeExpired(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	purgeExpired(t, store)
}

func TestMergeCookies(t *testing.T) {
	merged := MergeCookies(
		[]*http.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		[]*http.Cookie{{Name: "b", Value: "3"}, {Name: "c", Value: "4"}},
	)

	require.Len(t, merged, 3)
	assert.Equal(t, "1", merged[0].Value)
	assert.Equal(t, "3", merged[1].Value)
	assert.Equal(t, "c", merged[2].Name)
}

func TestParseCookieString(t *testing.T) {
	cookies := ParseCookieString("uid=1; pass = secret ;broken; =nope")

	require.Len(t, cookies, 2)
	assert.Equal(t, "uid", cookies[0].Name)
	assert.Equal(t, "pass", cookies[1].Name)
	assert.Equal(t, "secret", cookies[1].Value)
}
