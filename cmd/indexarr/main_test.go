package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/config"
	"github.com/slipstream/indexarr/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 9696, PublicURL: "http://localhost:9696", APIKey: "key"},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "indexarr.db")},
		Session:  config.SessionConfig{Store: "bolt", BoltPath: filepath.Join(dir, "sessions.bolt")},
		Search:   config.SearchConfig{MaxConcurrency: 2, MaxRetries: 1},
	}
}

func TestOpenAppWiresServices(t *testing.T) {
	ctx := context.Background()
	a, err := openApp(ctx, testConfig(t), testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	impls := a.indexers.Implementations()
	names := make([]string, 0, len(impls))
	for _, impl := range impls {
		names = append(names, impl.Name)
	}
	assert.Subset(t, names, []string{"bakabt", "hdbits", "torznab"})

	apps, err := a.applications.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, apps)

	n, err := a.sessions.PurgeExpired(ctx, testClock())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenAppWithSecretKey(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database.SecretKey = "passphrase"
	cfg.Session.Store = "sqlite"

	a, err := openApp(ctx, cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()
	require.NotNil(t, a.status)

	var count int
	require.NoError(t, a.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestParseID(t *testing.T) {
	id, err := parseID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "x", "0", "-3"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	syncCmd.SetOut(&buf)
	defer syncCmd.SetOut(nil)

	require.NoError(t, printJSON(syncCmd, map[string]int{"added": 2}))
	var out map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out["added"])
}

func testClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
