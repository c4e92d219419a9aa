package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/status"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type stubSettings struct {
	Rows int  `json:"rows"`
	Fail bool `json:"fail"`
}

// stubDefinition answers every search with Rows releases named after the
// indexer, or with an unparseable page when Fail is set.
type stubDefinition struct {
	name     string
	settings stubSettings
}

func (d *stubDefinition) Capabilities() *types.Capabilities {
	return &types.Capabilities{
		SearchParams:   []string{types.ParamQuery},
		TVSearchParams: []string{types.ParamQuery, types.ParamSeason},
	}
}

func (d *stubDefinition) BasicRequests(c types.SearchCriteria) *request.Chain {
	return request.Of(request.NewGet("stub://" + d.name + "?q=" + c.Query))
}

func (d *stubDefinition) ParseResponse(*request.Response) ([]types.ReleaseInfo, error) {
	if d.settings.Fail {
		return nil, errors.New("unexpected markup")
	}
	out := make([]types.ReleaseInfo, 0, d.settings.Rows)
	for i := range d.settings.Rows {
		out = append(out, types.ReleaseInfo{
			Title:       fmt.Sprintf("%s-%d", d.name, i),
			DownloadURL: fmt.Sprintf("stub://%s/%d", d.name, i),
		})
	}
	return out, nil
}

type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, req *request.Request, _ []*http.Cookie) (*request.Response, error) {
	return &request.Response{Request: req, StatusCode: http.StatusOK, FinalURL: req.URL}, nil
}

func stubRegistry() *Registry {
	r := NewRegistry()
	r.Register(Implementation{
		Name:     "stub",
		Protocol: types.ProtocolTorrent,
		Privacy:  types.PrivacyPublic,
		Factory: func(info *types.IndexerDefinition, _ Deps) (Definition, error) {
			var s stubSettings
			if len(info.Settings) > 0 {
				if err := json.Unmarshal(info.Settings, &s); err != nil {
					return nil, err
				}
			}
			if s.Rows < 0 {
				return nil, errors.New("rows must not be negative")
			}
			return &stubDefinition{name: info.Name, settings: s}, nil
		},
	})
	return r
}

type recordingListener struct {
	mu      sync.Mutex
	added   []int64
	updated []*types.IndexerDefinition
	removed []int64
}

func (l *recordingListener) IndexerAdded(_ context.Context, def *types.IndexerDefinition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, def.ID)
}

func (l *recordingListener) IndexerUpdated(_ context.Context, def *types.IndexerDefinition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, def)
}

func (l *recordingListener) IndexerRemoved(_ context.Context, id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, id)
}

func newTestService(t *testing.T) (*Service, *recordingListener) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	svc := NewService(NewSQLStore(tdb.Conn), stubRegistry(), stubExecutor{}, ServiceOptions{}, tdb.Logger)
	l := &recordingListener{}
	svc.AddListener(l)
	return svc, l
}

func createStub(t *testing.T, svc *Service, name string, priority int, enabled bool, settings string, profiles ...int64) *types.IndexerDefinition {
	t.Helper()
	def, err := svc.Create(context.Background(), &CreateIndexerInput{
		Name:           name,
		Implementation: "stub",
		Priority:       priority,
		Enabled:        enabled,
		Settings:       json.RawMessage(settings),
		AppProfileIDs:  profiles,
	})
	require.NoError(t, err)
	return def
}

func TestServiceCreateValidates(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateIndexerInput
	}{
		{"missing name", CreateIndexerInput{Implementation: "stub"}},
		{"unknown implementation", CreateIndexerInput{Name: "x", Implementation: "nope"}},
		{"invalid settings", CreateIndexerInput{Name: "x", Implementation: "stub", Settings: json.RawMessage(`{"rows":-1}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, &tt.input)
			assert.ErrorIs(t, err, ErrInvalidIndexer)
		})
	}
	assert.Empty(t, l.added)
}

func TestServiceLifecycleNotifiesListeners(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	profile, err := svc.SaveProfile(ctx, &types.AppProfile{Name: "Standard", EnableRss: true})
	require.NoError(t, err)

	def := createStub(t, svc, "Alpha", 0, true, `{"rows":1}`, profile.ID)
	assert.Equal(t, defaultPriority, def.Priority)
	assert.Equal(t, types.ProtocolTorrent, def.Protocol)
	require.NotNil(t, def.Capabilities)
	assert.Equal(t, []int64{def.ID}, l.added)

	disabled := false
	updated, err := svc.Update(ctx, def.ID, &UpdateIndexerInput{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	require.Len(t, updated.AppProfiles, 1, "profiles survive a partial update")
	require.Len(t, l.updated, 1)
	assert.False(t, l.updated[0].Enabled)

	profile.EnableRss = false
	_, err = svc.SaveProfile(ctx, profile)
	require.NoError(t, err)
	require.Len(t, l.updated, 2, "profile change re-announces its indexers")
	assert.False(t, l.updated[1].AppProfiles[0].EnableRss)

	require.NoError(t, svc.Delete(ctx, def.ID))
	assert.Equal(t, []int64{def.ID}, l.removed)

	_, err = svc.Get(ctx, def.ID)
	assert.ErrorIs(t, err, ErrIndexerNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, def.ID), ErrIndexerNotFound)
	assert.Len(t, l.removed, 1)
}

func TestServiceUpdateRejectsInvalidSettings(t *testing.T) {
	svc, l := newTestService(t)
	def := createStub(t, svc, "Alpha", 10, true, `{"rows":1}`)

	_, err := svc.Update(context.Background(), def.ID, &UpdateIndexerInput{Settings: json.RawMessage(`{"rows":-5}`)})
	assert.ErrorIs(t, err, ErrInvalidIndexer)
	assert.Empty(t, l.updated)

	stored, err := svc.Get(context.Background(), def.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":1}`, string(stored.Settings))
}

func TestServiceSearch(t *testing.T) {
	svc, _ := newTestService(t)
	def := createStub(t, svc, "Alpha", 10, true, `{"rows":2}`)

	releases, err := svc.Search(context.Background(), def.ID, types.SearchCriteria{Query: "x"})
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.Equal(t, "Alpha", releases[0].IndexerName)
	assert.Equal(t, "stub://Alpha/0", releases[0].GUID, "guid defaults to the download url")

	_, err = svc.Search(context.Background(), 999, types.SearchCriteria{Query: "x"})
	assert.ErrorIs(t, err, ErrIndexerNotFound)
}

func TestServiceSearchAll(t *testing.T) {
	svc, _ := newTestService(t)
	low := createStub(t, svc, "Low", 40, true, `{"rows":2}`)
	high := createStub(t, svc, "High", 5, true, `{"rows":1}`)
	broken := createStub(t, svc, "Broken", 20, true, `{"fail":true}`)
	createStub(t, svc, "Off", 1, false, `{"rows":3}`)

	res, err := svc.SearchAll(context.Background(), types.SearchCriteria{Query: "x"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.IndexersUsed)
	require.Len(t, res.Releases, 3)
	assert.Equal(t, high.ID, res.Releases[0].IndexerID)
	assert.Equal(t, low.ID, res.Releases[1].IndexerID)
	assert.Equal(t, low.ID, res.Releases[2].IndexerID)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, broken.ID, res.Failures[0].IndexerID)
	assert.Equal(t, ErrCodeParse, res.Failures[0].Code)

	only, err := svc.SearchAll(context.Background(), types.SearchCriteria{Query: "x"}, []int64{low.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, only.IndexersUsed)
	assert.Len(t, only.Releases, 2)
	assert.Empty(t, only.Failures)
}

func TestServiceSearchAllSkipsUnsupportedKinds(t *testing.T) {
	svc, _ := newTestService(t)
	createStub(t, svc, "Alpha", 10, true, `{"rows":2}`)

	res, err := svc.SearchAll(context.Background(), types.SearchCriteria{Kind: types.SearchKindMovie, Query: "x"}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.IndexersUsed)
	assert.Empty(t, res.Releases)
	assert.NotNil(t, res.Releases)
}

func TestServiceTest(t *testing.T) {
	svc, _ := newTestService(t)
	ok := createStub(t, svc, "Alpha", 10, true, `{"rows":1}`)
	bad := createStub(t, svc, "Broken", 10, true, `{"fail":true}`)

	res, err := svc.Test(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = svc.Test(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeParse, res.Code)
}

func TestServiceBacksOffFailingIndexers(t *testing.T) {
	ctx := context.Background()
	tdb := testutil.NewTestDB(t)
	tracker := status.NewService(status.NewSQLStore(tdb.Conn), tdb.Logger)
	svc := NewService(NewSQLStore(tdb.Conn), stubRegistry(), stubExecutor{}, ServiceOptions{Status: tracker}, tdb.Logger)

	ok := createStub(t, svc, "Alpha", 10, true, `{"rows":1}`)
	broken := createStub(t, svc, "Broken", 20, true, `{"fail":true}`)

	_, err := svc.Search(ctx, broken.ID, types.SearchCriteria{Query: "x"})
	assert.ErrorIs(t, err, ErrParse)

	_, err = svc.Search(ctx, broken.ID, types.SearchCriteria{Query: "x"})
	assert.ErrorIs(t, err, ErrDisabled, "second search is skipped while backing off")

	res, err := svc.SearchAll(ctx, types.SearchCriteria{Query: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexersUsed)
	assert.Len(t, res.Releases, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ErrCodeDisabled, res.Failures[0].Code)

	st, err := tracker.GetStatus(ctx, ok.ID)
	require.NoError(t, err)
	assert.NotNil(t, st.LastSuccess)
	assert.Zero(t, st.EscalationLevel)
}
