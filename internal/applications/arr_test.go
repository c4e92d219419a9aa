package applications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/testutil"
)

type arrFixture struct {
	fake  *fakeArr
	store *SQLStore
	app   *Application
	arr   *Arr
}

func newArrFixture(t *testing.T) *arrFixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	fake := newFakeArr(t, "v3")
	store := NewSQLStore(tdb.Conn)

	flavor, _ := LookupFlavor("radarr")
	app, err := store.CreateApplication(context.Background(), &Application{
		Name:           "Radarr",
		Implementation: "radarr",
		BaseURL:        fake.server.URL,
		APIKey:         testRemoteKey,
		SyncLevel:      SyncFull,
		SyncCategories: flavor.DefaultCategories,
	})
	require.NoError(t, err)

	arr, err := NewArr(ArrConfig{
		App:       app,
		PublicURL: testPublicURL + "/",
		APIKey:    testRegistryKey,
		Schema:    NewSchemaCache(0),
		Maps:      store,
		Logger:    tdb.Logger,
	})
	require.NoError(t, err)

	return &arrFixture{fake: fake, store: store, app: app, arr: arr}
}

func (f *arrFixture) mapping(t *testing.T, indexerID int64) *AppIndexerMap {
	t.Helper()
	m, err := f.store.GetMapping(context.Background(), f.app.ID, indexerID)
	require.NoError(t, err)
	return m
}

func TestArr_AddIndexer(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	def := movieIndexer(7, "Movie Tracker")

	action, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, action)

	m := f.mapping(t, 7)
	remote, ok := f.fake.remote(m.RemoteIndexerID)
	require.True(t, ok)

	assert.Equal(t, "Movie Tracker (Indexarr)", remote.Name)
	assert.Equal(t, implTorznab, remote.Implementation)
	assert.Equal(t, "TorznabSettings", remote.ConfigContract)
	assert.True(t, remote.EnableRss)
	assert.True(t, remote.EnableAutomaticSearch)
	assert.True(t, remote.EnableInteractiveSearch)
	assert.Equal(t, 25, remote.Priority)
	assert.Equal(t, testPublicURL+"/7/", remote.StringField(fieldBaseURL))
	assert.Equal(t, "/api", remote.StringField(fieldAPIPath))
	assert.Equal(t, testRegistryKey, remote.StringField(fieldAPIKey))
	assert.Equal(t, []int{categories.Movies, categories.MoviesHD}, remote.IntsField(fieldCategories))
	assert.NotNil(t, remote.field("minimumSeeders"), "template fields are kept")
}

func TestArr_AddUsenetUsesNewznabTemplate(t *testing.T) {
	f := newArrFixture(t)
	def := movieIndexer(3, "Usenet")
	def.Protocol = "usenet"

	_, err := f.arr.AddIndexer(context.Background(), def)
	require.NoError(t, err)

	remote, _ := f.fake.remote(f.mapping(t, 3).RemoteIndexerID)
	assert.Equal(t, implNewznab, remote.Implementation)
	assert.Equal(t, "NewznabSettings", remote.ConfigContract)
}

func TestArr_AddIneligibleIsNoop(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()

	action, err := f.arr.AddIndexer(ctx, musicIndexer(4, "Music Only"))
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, action)
	assert.Zero(t, f.fake.writeCount(), "remote untouched")
	assert.Zero(t, f.fake.count())

	_, err = f.store.GetMapping(ctx, f.app.ID, 4)
	require.ErrorIs(t, err, ErrMappingNotFound)
}

func TestArr_AddUnlinkedProfileIsNoop(t *testing.T) {
	f := newArrFixture(t)
	def := movieIndexer(5, "Linked Elsewhere")
	def.AppProfiles = []types.AppProfile{{ID: 1, EnableRss: true, ApplicationIDs: []int64{f.app.ID + 100}}}

	action, err := f.arr.AddIndexer(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, action)
	assert.Zero(t, f.fake.writeCount())
}

func TestArr_AddTwiceDoesNotDuplicate(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	def := movieIndexer(7, "Movie Tracker")

	_, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)
	action, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)

	assert.Equal(t, ActionNone, action)
	assert.Equal(t, 1, f.fake.count())
}

func TestArr_UpdateIsIdempotent(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	def := movieIndexer(7, "Movie Tracker")

	_, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.writeCount())

	action, err := f.arr.UpdateIndexer(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)
	assert.Equal(t, 1, f.fake.writeCount(), "unchanged definition writes nothing")

	def.Priority = 10
	action, err = f.arr.UpdateIndexer(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)

	action, err = f.arr.UpdateIndexer(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)
	assert.Equal(t, 2, f.fake.writeCount(), "two updates in a row issue one write")

	remote, _ := f.fake.remote(f.mapping(t, 7).RemoteIndexerID)
	assert.Equal(t, 10, remote.Priority)
}

func TestArr_UpdateWithoutMappingAdds(t *testing.T) {
	f := newArrFixture(t)

	action, err := f.arr.UpdateIndexer(context.Background(), movieIndexer(7, "Movie Tracker"))
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, action)
	assert.Equal(t, 1, f.fake.count())
}

func TestArr_UpdateReaddsMissingRemote(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	def := movieIndexer(7, "Movie Tracker")

	_, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)
	oldRemote := f.mapping(t, 7).RemoteIndexerID
	f.fake.drop(oldRemote)

	action, err := f.arr.UpdateIndexer(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, action)

	m := f.mapping(t, 7)
	assert.NotEqual(t, oldRemote, m.RemoteIndexerID)
	_, ok := f.fake.remote(m.RemoteIndexerID)
	assert.True(t, ok, "mapping points at an existing remote indexer")
}

func TestArr_UpdateDropsIneligible(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	def := movieIndexer(7, "Movie Tracker")

	_, err := f.arr.AddIndexer(ctx, def)
	require.NoError(t, err)
	f.fake.drop(f.mapping(t, 7).RemoteIndexerID)

	music := musicIndexer(7, "Movie Tracker")
	action, err := f.arr.UpdateIndexer(ctx, music)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, action)
	assert.Zero(t, f.fake.count(), "not re-added")

	_, err = f.store.GetMapping(ctx, f.app.ID, 7)
	require.ErrorIs(t, err, ErrMappingNotFound)
}

func TestArr_RemoveThenMappings(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()

	for _, def := range []*types.IndexerDefinition{movieIndexer(1, "One"), movieIndexer(2, "Two")} {
		_, err := f.arr.AddIndexer(ctx, def)
		require.NoError(t, err)
	}

	mappings, err := f.arr.GetMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, mappings, 2)

	action, err := f.arr.RemoveIndexer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, action)

	mappings, err = f.arr.GetMappings(ctx)
	require.NoError(t, err)
	for _, localID := range mappings {
		assert.NotEqual(t, int64(1), localID)
	}
	assert.Len(t, mappings, 1)

	_, err = f.store.GetMapping(ctx, f.app.ID, 1)
	require.ErrorIs(t, err, ErrMappingNotFound)

	action, err = f.arr.RemoveIndexer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action, "second remove has nothing to do")
}

func TestArr_RemoveToleratesMissingRemote(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()

	_, err := f.arr.AddIndexer(ctx, movieIndexer(1, "One"))
	require.NoError(t, err)
	f.fake.drop(f.mapping(t, 1).RemoteIndexerID)

	action, err := f.arr.RemoveIndexer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ActionRemoved, action)
}

func TestArr_GetMappingsIgnoresForeignIndexers(t *testing.T) {
	f := newArrFixture(t)

	owned := f.fake.put(ownedIndexer(11, testRegistryKey))
	f.fake.put(ownedIndexer(12, "someone-else"))

	otherHost := ownedIndexer(13, testRegistryKey)
	otherHost.SetField(fieldBaseURL, "http://other-indexarr:9696/13/")
	f.fake.put(otherHost)

	notProxy := ownedIndexer(14, testRegistryKey)
	notProxy.Implementation = "Rarbg"
	f.fake.put(notProxy)

	mappings, err := f.arr.GetMappings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{owned: 11}, mappings)
}

func TestArr_RejectedWriteInvalidatesSchema(t *testing.T) {
	f := newArrFixture(t)
	ctx := context.Background()
	f.fake.setRejectWrites(true)

	_, err := f.arr.AddIndexer(ctx, movieIndexer(1, "One"))
	require.ErrorIs(t, err, ErrRemoteRejected)
	assert.Contains(t, err.Error(), "Categories: unknown field")
	assert.Equal(t, 1, f.fake.schemaCount())

	f.fake.setRejectWrites(false)
	action, err := f.arr.AddIndexer(ctx, movieIndexer(1, "One"))
	require.NoError(t, err)
	assert.Equal(t, ActionAdded, action)
	assert.Equal(t, 2, f.fake.schemaCount(), "schema refetched after rejection")
}

func TestArr_SchemaMissing(t *testing.T) {
	f := newArrFixture(t)
	f.fake.mu.Lock()
	f.fake.schema = f.fake.schema[:1] // newznab only
	f.fake.mu.Unlock()

	_, err := f.arr.AddIndexer(context.Background(), movieIndexer(1, "One"))
	require.ErrorIs(t, err, ErrSchemaMissing)
	assert.Zero(t, f.fake.writeCount())
}

func TestArr_Test(t *testing.T) {
	f := newArrFixture(t)

	require.NoError(t, f.arr.Test(context.Background()))

	tested := f.fake.testedIndexers()
	require.Len(t, tested, 1)
	assert.Equal(t, "Test (Indexarr)", tested[0].Name)
	assert.Equal(t, implNewznab, tested[0].Implementation)
	assert.Equal(t, testPublicURL+"/0/", tested[0].StringField(fieldBaseURL))
	assert.Equal(t, []int{categories.Movies}, tested[0].IntsField(fieldCategories))
	assert.Zero(t, f.fake.count(), "test never saves an indexer")
}

func TestArr_TestRejectsOldVersion(t *testing.T) {
	f := newArrFixture(t)
	f.fake.setVersion("2.9.1.1234")

	err := f.arr.Test(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Empty(t, f.fake.testedIndexers())
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"3.0.0.4000", true},
		{"5.2.6.8376", true},
		{"3.0", true},
		{"2.99.9.9", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := checkVersion(tt.version, "3.0.0")
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedVersion)
			}
		})
	}
}

func TestFlavors(t *testing.T) {
	names := make([]string, 0)
	for _, f := range Flavors() {
		names = append(names, f.Implementation)
		assert.NotEmpty(t, f.DefaultCategories, f.Implementation)
	}
	assert.Equal(t, []string{"lidarr", "radarr", "readarr", "sonarr"}, names)

	readarr, ok := LookupFlavor("Readarr")
	require.True(t, ok)
	assert.Equal(t, "v1", readarr.APIVersion)
	assert.False(t, readarr.Policy([]bool{true, false}), "readarr requires every profile")

	radarr, _ := LookupFlavor("radarr")
	assert.True(t, radarr.Policy([]bool{true, false}))
	assert.Contains(t, radarr.DefaultCategories, categories.MoviesUHD)
}
