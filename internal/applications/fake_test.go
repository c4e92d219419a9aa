package applications

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

const (
	testRemoteKey   = "remote-key"
	testRegistryKey = "registry-key"
	testPublicURL   = "http://indexarr.local:9696"
)

// fakeArr is an in-memory *arr indexer API.
type fakeArr struct {
	t       *testing.T
	server  *httptest.Server
	version string

	mu            sync.Mutex
	indexers      map[int64]RemoteIndexer
	nextID        int64
	writes        int
	schemaFetches int
	tested        []RemoteIndexer
	rejectWrites  bool
	schema        []RemoteIndexer
}

func newFakeArr(t *testing.T, apiVersion string) *fakeArr {
	t.Helper()
	f := &fakeArr{
		t:        t,
		version:  "5.2.6.8376",
		indexers: make(map[int64]RemoteIndexer),
		nextID:   1,
		schema: []RemoteIndexer{
			schemaTemplate(implNewznab, "NewznabSettings"),
			schemaTemplate(implTorznab, "TorznabSettings"),
		},
	}
	f.server = httptest.NewServer(http.StripPrefix("/api/"+apiVersion, http.HandlerFunc(f.serve)))
	t.Cleanup(f.server.Close)
	return f
}

func schemaTemplate(impl, contract string) RemoteIndexer {
	r := RemoteIndexer{
		Implementation:     impl,
		ImplementationName: impl,
		ConfigContract:     contract,
		Protocol:           strings.ToLower(impl),
		EnableRss:          true,
	}
	r.SetField(fieldBaseURL, "")
	r.SetField(fieldAPIPath, "/api")
	r.SetField(fieldAPIKey, "")
	r.SetField(fieldCategories, []int{2000, 2010})
	r.SetField("minimumSeeders", 1)
	return r
}

func (f *fakeArr) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(apiKeyHeader) != testRemoteKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/system/status":
		writeJSON(w, http.StatusOK, SystemStatus{AppName: "Radarr", Version: f.version})
	case r.URL.Path == "/indexer/schema":
		f.schemaFetches++
		writeJSON(w, http.StatusOK, f.schema)
	case r.URL.Path == "/indexer/test" && r.Method == http.MethodPost:
		var idx RemoteIndexer
		_ = json.NewDecoder(r.Body).Decode(&idx)
		f.tested = append(f.tested, idx)
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/indexer" && r.Method == http.MethodGet:
		out := make([]RemoteIndexer, 0, len(f.indexers))
		for id := int64(1); id < f.nextID; id++ {
			if idx, ok := f.indexers[id]; ok {
				out = append(out, idx)
			}
		}
		writeJSON(w, http.StatusOK, out)
	case r.URL.Path == "/indexer" && r.Method == http.MethodPost:
		f.writes++
		if f.rejectWrites {
			writeJSON(w, http.StatusBadRequest, []validationFailure{{PropertyName: "Categories", ErrorMessage: "unknown field"}})
			return
		}
		var idx RemoteIndexer
		_ = json.NewDecoder(r.Body).Decode(&idx)
		idx.ID = f.nextID
		f.nextID++
		f.indexers[idx.ID] = idx
		writeJSON(w, http.StatusCreated, idx)
	case strings.HasPrefix(r.URL.Path, "/indexer/"):
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/indexer/"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		existing, ok := f.indexers[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, existing)
		case http.MethodPut:
			f.writes++
			if f.rejectWrites {
				writeJSON(w, http.StatusBadRequest, []validationFailure{{ErrorMessage: "invalid"}})
				return
			}
			var idx RemoteIndexer
			_ = json.NewDecoder(r.Body).Decode(&idx)
			idx.ID = id
			f.indexers[id] = idx
			writeJSON(w, http.StatusAccepted, idx)
		case http.MethodDelete:
			f.writes++
			delete(f.indexers, id)
			w.WriteHeader(http.StatusOK)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// put stores an indexer directly, bypassing the write counter.
func (f *fakeArr) put(idx RemoteIndexer) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx.ID = f.nextID
	f.nextID++
	f.indexers[idx.ID] = idx
	return idx.ID
}

func (f *fakeArr) drop(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexers, id)
}

func (f *fakeArr) remote(id int64) (RemoteIndexer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.indexers[id]
	return idx, ok
}

func (f *fakeArr) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexers)
}

func (f *fakeArr) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeArr) schemaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schemaFetches
}

// ownedIndexer builds a remote indexer that points back at local id.
func ownedIndexer(localID int64, apiKey string) RemoteIndexer {
	r := schemaTemplate(implTorznab, "TorznabSettings")
	r.Name = fmt.Sprintf("Indexer %d%s", localID, nameSuffix)
	r.SetField(fieldBaseURL, fmt.Sprintf("%s/%d/", testPublicURL, localID))
	r.SetField(fieldAPIKey, apiKey)
	return r
}

// indexerSource serves fixed definitions.
type indexerSource struct {
	mu   sync.Mutex
	defs map[int64]*types.IndexerDefinition
}

func newIndexerSource(defs ...*types.IndexerDefinition) *indexerSource {
	s := &indexerSource{defs: make(map[int64]*types.IndexerDefinition)}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

func (s *indexerSource) Get(_ context.Context, id int64) (*types.IndexerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	if !ok {
		return nil, fmt.Errorf("indexer %d not found", id)
	}
	return d, nil
}

func (s *indexerSource) List(_ context.Context) ([]*types.IndexerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.IndexerDefinition, 0, len(s.defs))
	for id := int64(1); id <= 100; id++ {
		if d, ok := s.defs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *indexerSource) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
}

// movieIndexer is a torrent indexer with movie and TV categories.
func movieIndexer(id int64, name string) *types.IndexerDefinition {
	m := categories.NewMap()
	m.AddMapping("1", categories.MoviesHD, "Movies HD")
	m.AddMapping("2", categories.TVHD, "TV HD")
	return &types.IndexerDefinition{
		ID:           id,
		Name:         name,
		Protocol:     types.ProtocolTorrent,
		Enabled:      true,
		Priority:     25,
		Capabilities: &types.Capabilities{Categories: m.Freeze()},
	}
}

// musicIndexer only carries audio categories.
func musicIndexer(id int64, name string) *types.IndexerDefinition {
	m := categories.NewMap()
	m.AddMapping("7", categories.AudioMP3, "MP3")
	return &types.IndexerDefinition{
		ID:           id,
		Name:         name,
		Protocol:     types.ProtocolTorrent,
		Enabled:      true,
		Priority:     25,
		Capabilities: &types.Capabilities{Categories: m.Freeze()},
	}
}

func (f *fakeArr) setVersion(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version = v
}

func (f *fakeArr) setRejectWrites(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectWrites = reject
}

func (f *fakeArr) testedIndexers() []RemoteIndexer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoteIndexer(nil), f.tested...)
}
