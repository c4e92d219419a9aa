package applications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/crypto"
	"github.com/slipstream/indexarr/internal/testutil"
)

func TestSQLStore_Applications(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewSQLStore(tdb.Conn)
	ctx := context.Background()

	created, err := store.CreateApplication(ctx, &Application{
		Name:           "Lidarr",
		Implementation: "lidarr",
		BaseURL:        "http://lidarr:8686",
		APIKey:         "k",
		SyncLevel:      SyncAddOnly,
		SyncCategories: []int{3000, 3010},
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, []int{3000, 3010}, created.SyncCategories)
	assert.Equal(t, SyncAddOnly, created.SyncLevel)
	assert.False(t, created.CreatedAt.IsZero())

	created.SyncCategories = nil
	updated, err := store.UpdateApplication(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, []int{}, updated.SyncCategories)

	apps, err := store.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	_, err = store.UpdateApplication(ctx, &Application{ID: 999, Name: "x", SyncLevel: SyncFull})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_SealsAPIKeys(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	ctx := context.Background()

	plain := NewSQLStore(tdb.Conn)
	legacy, err := plain.CreateApplication(ctx, &Application{
		Name: "Sonarr", Implementation: "sonarr", BaseURL: "http://sonarr", APIKey: "legacy-key", SyncLevel: SyncFull,
	})
	require.NoError(t, err)

	sealer, err := crypto.NewSecretStore("passphrase", []byte("0123456789abcdef"))
	require.NoError(t, err)
	store := NewSQLStore(tdb.Conn)
	store.SetSealer(sealer)

	created, err := store.CreateApplication(ctx, &Application{
		Name: "Radarr", Implementation: "radarr", BaseURL: "http://radarr", APIKey: "radarr-key", SyncLevel: SyncFull,
	})
	require.NoError(t, err)
	assert.Equal(t, "radarr-key", created.APIKey)

	var raw string
	require.NoError(t, tdb.Conn.QueryRowContext(ctx, `SELECT api_key FROM applications WHERE id = ?`, created.ID).Scan(&raw))
	assert.True(t, crypto.IsEncrypted(raw))

	got, err := store.GetApplication(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", got.APIKey, "plain text rows stay readable")

	apps, err := store.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	for _, app := range apps {
		assert.False(t, crypto.IsEncrypted(app.APIKey))
	}
}

func TestSQLStore_Mappings(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewSQLStore(tdb.Conn)
	ctx := context.Background()

	app, err := store.CreateApplication(ctx, &Application{
		Name: "Radarr", Implementation: "radarr", BaseURL: "http://radarr", APIKey: "k", SyncLevel: SyncFull,
	})
	require.NoError(t, err)

	m, err := store.InsertMapping(ctx, AppIndexerMap{AppID: app.ID, IndexerID: 4, RemoteIndexerID: 12})
	require.NoError(t, err)
	assert.NotZero(t, m.ID)

	_, err = store.InsertMapping(ctx, AppIndexerMap{AppID: app.ID, IndexerID: 4, RemoteIndexerID: 13})
	require.ErrorIs(t, err, ErrSyncConflict, "one mapping per pair")

	got, err := store.GetMapping(ctx, app.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.RemoteIndexerID)

	_, err = store.GetMapping(ctx, app.ID, 5)
	require.ErrorIs(t, err, ErrMappingNotFound)

	// Rows outlive the local indexer but not the application.
	require.NoError(t, store.DeleteApplication(ctx, app.ID))
	rows, err := store.ListMappings(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
