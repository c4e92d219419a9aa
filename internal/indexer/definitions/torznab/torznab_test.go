package torznab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

func newTorznab(t *testing.T, protocol types.Protocol, settings string) *Torznab {
	t.Helper()
	info := &types.IndexerDefinition{ID: 9, Name: "Feed", Settings: []byte(settings)}
	def, err := New(info, protocol, zerolog.Nop())
	require.NoError(t, err)
	return def
}

func feedDoc(items ...string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed"><channel><title>t</title>` +
		strings.Join(items, "") + `</channel></rss>`)
}

func feedItem(n int) string {
	return fmt.Sprintf(`<item><title>Release %d</title><guid>g-%d</guid><link>https://t.example/dl/%d</link>`+
		`<pubDate>Tue, 07 May 2024 10:00:00 +0000</pubDate><size>%d</size>`+
		`<torznab:attr name="category" value="2040"/><torznab:attr name="seeders" value="%d"/></item>`, n, n, n, n*1000, n)
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name     string
		settings string
	}{
		{"missing base url", `{}`},
		{"relative base url", `{"baseUrl":"indexer.local"}`},
		{"too many pages", `{"baseUrl":"https://t.example","pages":50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&types.IndexerDefinition{Settings: []byte(tt.settings)}, types.ProtocolTorrent, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestRequests(t *testing.T) {
	def := newTorznab(t, types.ProtocolTorrent, `{"baseUrl":"https://t.example/","apiKey":"secret","pages":2}`)

	chain := indexer.BuildChain(def, types.SearchCriteria{
		Kind:       types.SearchKindTV,
		Query:      "Show",
		Season:     1,
		Categories: []int{categories.TVHD},
	})

	var urls []*url.URL
	for req := range chain.All() {
		u, err := url.Parse(req.URL)
		require.NoError(t, err)
		urls = append(urls, u)
	}
	require.Len(t, urls, 2)

	first := urls[0].Query()
	assert.Equal(t, "/api", urls[0].Path)
	assert.Equal(t, "tvsearch", first.Get("t"))
	assert.Equal(t, "Show", first.Get("q"))
	assert.Equal(t, "1", first.Get("season"))
	assert.Equal(t, "5040", first.Get("cat"))
	assert.Equal(t, "secret", first.Get("apikey"))
	assert.Equal(t, "100", first.Get("limit"))
	assert.False(t, first.Has("offset"))
	assert.Equal(t, "100", urls[1].Query().Get("offset"))
}

func TestParseResponse(t *testing.T) {
	def := newTorznab(t, types.ProtocolTorrent, `{"baseUrl":"https://t.example"}`)
	doc := feedDoc(`<item>
  <title>Movie.2023.1080p</title>
  <guid>abc</guid>
  <comments>https://t.example/details/abc</comments>
  <pubDate>Tue, 07 May 2024 10:00:00 +0000</pubDate>
  <enclosure url="https://t.example/dl/abc.torrent" length="2048" type="application/x-bittorrent"/>
  <torznab:attr name="category" value="2000"/>
  <torznab:attr name="category" value="2040"/>
  <torznab:attr name="imdb" value="0113277"/>
  <torznab:attr name="seeders" value="4"/>
  <torznab:attr name="peers" value="6"/>
  <torznab:attr name="grabs" value="10"/>
  <torznab:attr name="downloadvolumefactor" value="0.5"/>
  <torznab:attr name="minimumseedtime" value="3600"/>
</item>`, `<item><title>No link</title></item>`)

	releases, err := def.ParseResponse(&request.Response{StatusCode: 200, Body: doc})
	require.NoError(t, err)
	require.Len(t, releases, 1)

	r := releases[0]
	assert.Equal(t, "Movie.2023.1080p", r.Title)
	assert.Equal(t, "https://t.example/dl/abc.torrent", r.DownloadURL)
	assert.Equal(t, int64(2048), r.Size)
	assert.Equal(t, []int{categories.Movies, categories.MoviesHD}, r.Categories)
	assert.Equal(t, "tt0113277", r.ImdbID)
	assert.Equal(t, 4, *r.Seeders)
	assert.Equal(t, 6, *r.Peers)
	assert.Equal(t, 10, *r.Grabs)
	assert.Equal(t, 0.5, r.DownloadVolumeFactor)
	assert.Equal(t, 1.0, r.UploadVolumeFactor)
	assert.Equal(t, int64(3600), *r.MinimumSeedTime)
	assert.Equal(t, 2024, r.PublishDate.Year())
}

func TestParseResponseUsenetIgnoresTorrentAttrs(t *testing.T) {
	def := newTorznab(t, types.ProtocolUsenet, `{"baseUrl":"https://n.example"}`)
	doc := feedDoc(`<item><title>Album</title><link>https://n.example/get/1</link><category>3000</category>` +
		`<torznab:attr name="seeders" value="4"/></item>`)

	releases, err := def.ParseResponse(&request.Response{StatusCode: 200, Body: doc})
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, types.ProtocolUsenet, releases[0].Protocol)
	assert.Nil(t, releases[0].Seeders)
	assert.Equal(t, []int{categories.Audio}, releases[0].Categories)
}

func TestParseResponseErrors(t *testing.T) {
	def := newTorznab(t, types.ProtocolTorrent, `{"baseUrl":"https://t.example"}`)

	tests := []struct {
		name  string
		body  string
		check func(error) bool
	}{
		{"bad api key", `<error code="100" description="Incorrect user credentials"/>`, indexer.IsAuthError},
		{"request limit", `<error code="500" description="Request limit reached"/>`, indexer.IsRateLimitError},
		{"unknown error", `<error code="900" description="Unknown error"/>`, indexer.IsParseError},
		{"html page", `<html><body>Cloudflare</body></html>`, indexer.IsParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := def.ParseResponse(&request.Response{StatusCode: 200, Body: []byte(tt.body)})
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestSearchPagesUntilShortPage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("apikey") != "secret" {
			_, _ = w.Write([]byte(`<error code="100" description="Incorrect user credentials"/>`))
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		count := pageSize
		if offset > 0 {
			count = 3
		}
		items := make([]string, 0, count)
		for i := range count {
			items = append(items, feedItem(offset+i+1))
		}
		_, _ = w.Write(feedDoc(items...))
	}))
	defer srv.Close()

	def := newTorznab(t, types.ProtocolTorrent, fmt.Sprintf(`{"baseUrl":%q,"apiKey":"secret","pages":5}`, srv.URL))
	info := &types.IndexerDefinition{ID: 9, Name: "Feed", Protocol: types.ProtocolTorrent}
	exec := request.NewExecutor(request.ExecutorConfig{Logger: zerolog.Nop()})
	a := indexer.NewAdapter(info, def, exec, indexer.AdapterOptions{Logger: zerolog.Nop()})

	releases, err := a.Search(context.Background(), types.SearchCriteria{Kind: types.SearchKindMovie, Query: "Release"})
	require.NoError(t, err)
	assert.Len(t, releases, pageSize+3)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "g-1", releases[0].GUID)
	assert.Equal(t, int64(9), releases[0].IndexerID)
}

func TestSearchWithWrongKeyIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<error code="100" description="Incorrect user credentials"/>`))
	}))
	defer srv.Close()

	def := newTorznab(t, types.ProtocolTorrent, fmt.Sprintf(`{"baseUrl":%q,"apiKey":"wrong"}`, srv.URL))
	exec := request.NewExecutor(request.ExecutorConfig{Logger: zerolog.Nop()})
	a := indexer.NewAdapter(&types.IndexerDefinition{ID: 9, Name: "Feed"}, def, exec, indexer.AdapterOptions{Logger: zerolog.Nop()})

	_, err := a.Search(context.Background(), types.SearchCriteria{Query: "x"})
	assert.True(t, indexer.IsAuthError(err))
}
