package hdbits

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

func newHDBits(t *testing.T, settings string) *HDBits {
	t.Helper()
	info := &types.IndexerDefinition{ID: 4, Name: "HDBits", Settings: []byte(settings)}
	def, err := New(info, indexer.Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return def.(*HDBits)
}

func decodeQuery(t *testing.T, chain *request.Chain) torrentQuery {
	t.Helper()
	req, ok := chain.Next()
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var q torrentQuery
	require.NoError(t, json.Unmarshal(req.Body, &q))
	_, more := chain.Next()
	assert.False(t, more)
	return q
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name     string
		settings string
	}{
		{"missing username", `{"apiKey":"k"}`},
		{"missing api key", `{"username":"u"}`},
		{"unknown codec", `{"username":"u","apiKey":"k","codecs":[9]}`},
		{"unknown medium", `{"username":"u","apiKey":"k","mediums":[2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&types.IndexerDefinition{Settings: []byte(tt.settings)}, indexer.Deps{Logger: zerolog.Nop()})
			assert.Error(t, err)
		})
	}
}

func TestBasicRequest(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk","codecs":[1,5],"mediums":[6]}`)

	q := decodeQuery(t, h.BasicRequests(types.SearchCriteria{
		Query:      "Heat",
		Categories: []int{categories.Movies, categories.TVSport},
	}))

	assert.Equal(t, "u", q.Username)
	assert.Equal(t, "pk", q.Passkey)
	assert.Equal(t, "Heat", q.Search)
	assert.Equal(t, []int{catMovie, catSport}, q.Category)
	assert.Equal(t, []int{1, 5}, q.Codec)
	assert.Equal(t, []int{6}, q.Medium)
	assert.Equal(t, pageLimit, q.Limit)
}

func TestMovieRequestByImdb(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk"}`)

	q := decodeQuery(t, indexer.BuildChain(h, types.SearchCriteria{Kind: types.SearchKindMovie, Query: "Heat", ImdbID: "tt0113277"}))
	require.NotNil(t, q.Imdb)
	assert.Equal(t, 113277, q.Imdb.ID)
	assert.Empty(t, q.Search)
}

func TestTVRequests(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk"}`)

	byID := decodeQuery(t, indexer.BuildChain(h, types.SearchCriteria{Kind: types.SearchKindTV, TvdbID: 81189, Season: 1, Episode: "2"}))
	require.NotNil(t, byID.Tvdb)
	assert.Equal(t, idQuery{ID: 81189, Season: 1, Episode: 2}, *byID.Tvdb)

	byName := decodeQuery(t, indexer.BuildChain(h, types.SearchCriteria{Kind: types.SearchKindTV, Query: "Show", Season: 1, Episode: "2"}))
	assert.Nil(t, byName.Tvdb)
	assert.Equal(t, "Show S01E02", byName.Search)
}

func TestMusicSearchIsUnsupported(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk"}`)
	_, ok := indexer.BuildChain(h, types.SearchCriteria{Kind: types.SearchKindMusic, Artist: "x"}).Next()
	assert.False(t, ok)
}

func TestParseResponse(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk"}`)
	body, err := os.ReadFile("testdata/torrents.json")
	require.NoError(t, err)

	releases, err := h.ParseResponse(&request.Response{StatusCode: 200, Body: body})
	require.NoError(t, err)
	require.Len(t, releases, 3)

	heat := releases[0]
	assert.Equal(t, "Heat 1995 1080p BluRay DTS x264-HDB", heat.Title)
	assert.Equal(t, "https://hdbits.org/details.php?id=412345", heat.GUID)
	assert.Equal(t, "https://hdbits.org/download.php?id=412345&passkey=pk", heat.DownloadURL)
	assert.Equal(t, []int{categories.Movies}, heat.Categories)
	assert.Equal(t, "9f2c3a1b4d5e6f708192a3b4c5d6e7f809112233", heat.InfoHash)
	assert.Equal(t, "tt0113277", heat.ImdbID)
	assert.Equal(t, 830, *heat.Grabs)
	assert.Equal(t, 43, *heat.Peers)
	assert.Equal(t, 3, *heat.Files)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), heat.PublishDate)
	assert.Equal(t, 0.5, heat.DownloadVolumeFactor, "internal release")

	show := releases[1]
	assert.Equal(t, []int{categories.TV}, show.Categories)
	assert.Equal(t, 81189, show.TvdbID)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), show.PublishDate)
	assert.Equal(t, 0.75, show.DownloadVolumeFactor)

	concert := releases[2]
	assert.Equal(t, []int{categories.Audio}, concert.Categories)
	assert.Equal(t, 0.0, concert.DownloadVolumeFactor)
	assert.Equal(t, 1.0, concert.UploadVolumeFactor)
}

func TestParseResponseStatus(t *testing.T) {
	h := newHDBits(t, `{"username":"u","apiKey":"pk"}`)

	tests := []struct {
		body  string
		check func(error) bool
	}{
		{`{"status":5,"message":"Auth failed"}`, indexer.IsAuthError},
		{`{"status":4,"message":"Auth data missing"}`, indexer.IsAuthError},
		{`{"status":7,"message":"Invalid parameters"}`, indexer.IsParseError},
		{`<html>maintenance</html>`, indexer.IsParseError},
	}
	for _, tt := range tests {
		_, err := h.ParseResponse(&request.Response{StatusCode: 200, Body: []byte(tt.body)})
		require.Error(t, err, tt.body)
		assert.True(t, tt.check(err), tt.body)
	}
}

func TestSearchThroughAdapter(t *testing.T) {
	body, err := os.ReadFile("testdata/torrents.json")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var q torrentQuery
		if r.URL.Path != "/api/torrents" || json.Unmarshal(raw, &q) != nil || q.Passkey != "pk" {
			_, _ = w.Write([]byte(`{"status":5,"message":"Auth failed"}`))
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	info := &types.IndexerDefinition{ID: 4, Name: "HDBits", Protocol: types.ProtocolTorrent}
	exec := request.NewExecutor(request.ExecutorConfig{Logger: zerolog.Nop()})

	good := newHDBits(t, `{"baseUrl":"`+srv.URL+`","username":"u","apiKey":"pk"}`)
	releases, err := indexer.NewAdapter(info, good, exec, indexer.AdapterOptions{Logger: zerolog.Nop()}).
		Search(context.Background(), types.SearchCriteria{Kind: types.SearchKindMovie, ImdbID: "tt0113277"})
	require.NoError(t, err)
	assert.Len(t, releases, 3)

	bad := newHDBits(t, `{"baseUrl":"`+srv.URL+`","username":"u","apiKey":"nope"}`)
	_, err = indexer.NewAdapter(info, bad, exec, indexer.AdapterOptions{Logger: zerolog.Nop()}).
		Search(context.Background(), types.SearchCriteria{Query: "Heat"})
	assert.True(t, indexer.IsAuthError(err))
}
