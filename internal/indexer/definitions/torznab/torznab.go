// Package torznab implements generic Torznab and Newznab API endpoints.
package torznab

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/parse"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/types"
	feed "github.com/slipstream/indexarr/internal/torznab"
)

const (
	// Name is the torrent flavour; NewznabName the usenet one.
	Name        = "torznab"
	NewznabName = "newznab"

	defaultAPIPath = "/api"
	pageSize       = 100
	maxPages       = 10
)

// Settings configures a Torznab or Newznab endpoint.
type Settings struct {
	BaseURL string `json:"baseUrl"`
	APIPath string `json:"apiPath"`
	APIKey  string `json:"apiKey"`
	// Pages is how many pages of pageSize results one search may fetch.
	Pages int `json:"pages"`
}

// Validate checks required fields.
func (s *Settings) Validate() error {
	if s.BaseURL == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url %q", s.BaseURL)
	}
	if s.Pages < 1 || s.Pages > maxPages {
		return fmt.Errorf("pages must be between 1 and %d", maxPages)
	}
	return nil
}

// Implementation describes the torrent flavour for the registry.
func Implementation() indexer.Implementation {
	return indexer.Implementation{
		Name:        Name,
		DisplayName: "Generic Torznab",
		Description: "Any Torznab compatible tracker API",
		Protocol:    types.ProtocolTorrent,
		Privacy:     types.PrivacyPrivate,
		Factory:     factory(types.ProtocolTorrent),
	}
}

// NewznabImplementation describes the usenet flavour for the registry.
func NewznabImplementation() indexer.Implementation {
	return indexer.Implementation{
		Name:        NewznabName,
		DisplayName: "Generic Newznab",
		Description: "Any Newznab compatible usenet indexer",
		Protocol:    types.ProtocolUsenet,
		Privacy:     types.PrivacyPrivate,
		Factory:     factory(types.ProtocolUsenet),
	}
}

// Torznab is the site definition.
type Torznab struct {
	info     *types.IndexerDefinition
	settings Settings
	protocol types.Protocol
	caps     *types.Capabilities
	endpoint string
	logger   zerolog.Logger
}

func factory(protocol types.Protocol) indexer.Factory {
	return func(info *types.IndexerDefinition, deps indexer.Deps) (indexer.Definition, error) {
		def, err := New(info, protocol, deps.Logger)
		if err != nil {
			return nil, err
		}
		return def, nil
	}
}

// New builds a definition from indexer settings.
func New(info *types.IndexerDefinition, protocol types.Protocol, logger zerolog.Logger) (*Torznab, error) {
	settings := Settings{APIPath: defaultAPIPath, Pages: 1}
	if len(info.Settings) > 0 {
		if err := json.Unmarshal(info.Settings, &settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if settings.APIPath == "" {
		settings.APIPath = defaultAPIPath
	}
	if settings.Pages == 0 {
		settings.Pages = 1
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(settings.BaseURL, "/") + "/" + strings.TrimLeft(settings.APIPath, "/")
	return &Torznab{
		info:     info,
		settings: settings,
		protocol: protocol,
		caps:     capabilities(),
		endpoint: endpoint,
		logger:   logger.With().Str("definition", string(protocol)).Logger(),
	}, nil
}

func capabilities() *types.Capabilities {
	return &types.Capabilities{
		SearchParams:      []string{types.ParamQuery},
		TVSearchParams:    []string{types.ParamQuery, types.ParamSeason, types.ParamEpisode, types.ParamImdbID, types.ParamTvdbID},
		MovieSearchParams: []string{types.ParamQuery, types.ParamImdbID, types.ParamTmdbID, types.ParamYear},
		MusicSearchParams: []string{types.ParamQuery, types.ParamArtist, types.ParamAlbum},
		BookSearchParams:  []string{types.ParamQuery, types.ParamAuthor, types.ParamTitle},
		LimitsMax:         pageSize,
		LimitsDefault:     pageSize,
		Categories:        categories.NewStandardMap(),
	}
}

func (t *Torznab) Capabilities() *types.Capabilities {
	return t.caps
}

// PageSize is the limit= sent on every page.
func (t *Torznab) PageSize() int {
	return pageSize
}

// BasicRequests serves every kind: the t= function follows c.Kind.
func (t *Torznab) BasicRequests(c types.SearchCriteria) *request.Chain {
	cats := t.caps.Categories.MapToSite(c.Categories)
	offset := c.Offset
	return request.Paged(t.settings.Pages, func(page int) *request.Request {
		pc := c
		pc.Limit = pageSize
		pc.Offset = offset + page*pageSize
		v := feed.Values(pc, cats)
		if t.settings.APIKey != "" {
			v.Set("apikey", t.settings.APIKey)
		}
		return request.NewGet(t.endpoint + "?" + v.Encode())
	})
}

// ParseResponse decodes an RSS result page. Newznab error documents become
// auth, rate limit or parse errors by code.
func (t *Torznab) ParseResponse(resp *request.Response) ([]types.ReleaseInfo, error) {
	items, err := feed.Decode(resp.Body)
	if err != nil {
		var terr *feed.Error
		switch {
		case errors.As(err, &terr) && terr.IsAuth():
			return nil, indexer.NewAuthError(t.info.ID, t.info.Name, terr)
		case errors.As(err, &terr) && terr.IsRateLimit():
			return nil, indexer.NewRateLimitError(t.info.ID, t.info.Name)
		default:
			return nil, indexer.NewParseError(t.info.ID, t.info.Name, "unreadable feed", err)
		}
	}

	releases := make([]types.ReleaseInfo, 0, len(items))
	for _, item := range items {
		r, ok := t.toRelease(item)
		if !ok {
			t.logger.Debug().Str("title", item.Title).Msg("Skipping item without download link")
			continue
		}
		releases = append(releases, r)
	}
	return releases, nil
}

func (t *Torznab) toRelease(item feed.Item) (types.ReleaseInfo, bool) {
	download := item.Link
	if item.Enclosure.URL != "" {
		download = item.Enclosure.URL
	}
	magnet := item.Attr("magneturl")
	if download == "" {
		download = magnet
	}
	if download == "" || item.Title == "" {
		return types.ReleaseInfo{}, false
	}

	r := types.ReleaseInfo{
		GUID:                 item.GUID,
		Title:                item.Title,
		Description:          item.Description,
		DownloadURL:          download,
		InfoURL:              item.Comments,
		MagnetURL:            magnet,
		Size:                 item.Size,
		Protocol:             t.protocol,
		ImdbID:               item.Attr("imdbid"),
		TvdbID:               parse.Int(item.Attr("tvdbid")),
		InfoHash:             item.Attr("infohash"),
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
	}
	if r.ImdbID == "" {
		r.ImdbID = item.Attr("imdb")
	}
	if r.ImdbID != "" && !strings.HasPrefix(r.ImdbID, "tt") {
		r.ImdbID = "tt" + r.ImdbID
	}
	if pub, err := parse.Date(item.PubDate, time.Now()); err == nil {
		r.PublishDate = pub
	}
	if r.Size == 0 {
		if s, err := strconv.ParseInt(item.Attr("size"), 10, 64); err == nil {
			r.Size = s
		} else {
			r.Size = item.Enclosure.Length
		}
	}

	tokens := item.AttrValues("category")
	if len(tokens) == 0 {
		tokens = item.Categories
	}
	r.Categories = t.caps.Categories.MapTokens(tokens...)

	setInt := func(name string, dst **int) {
		if v := item.Attr(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = types.IntPtr(n)
			}
		}
	}
	setInt("grabs", &r.Grabs)
	setInt("files", &r.Files)
	if t.protocol == types.ProtocolTorrent {
		setInt("seeders", &r.Seeders)
		setInt("peers", &r.Peers)
		if v := item.Attr("downloadvolumefactor"); v != "" {
			r.DownloadVolumeFactor = parse.Float(v)
		}
		if v := item.Attr("uploadvolumefactor"); v != "" {
			r.UploadVolumeFactor = parse.Float(v)
		}
		if v := item.Attr("minimumratio"); v != "" {
			r.MinimumRatio = types.Float64Ptr(parse.Float(v))
		}
		if v := item.Attr("minimumseedtime"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				r.MinimumSeedTime = types.Int64Ptr(n)
			}
		}
	}
	return r, true
}
