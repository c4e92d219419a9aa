// Package hdbits implements the HDBits JSON API. Every request carries the
// username and passkey, so there is no login step.
package hdbits

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

const (
	Name           = "hdbits"
	DefaultBaseURL = "https://hdbits.org/"

	pageLimit = 100
)

// API status codes.
const (
	statusSuccess         = 0
	statusAuthDataMissing = 4
	statusAuthFailed      = 5
)

// Site category ids.
const (
	catMovie       = 1
	catTV          = 2
	catDocumentary = 3
	catMusic       = 4
	catSport       = 5
	catAudio       = 6
	catXXX         = 7
	catMiscDemo    = 8
)

// Codec and medium filter values accepted by the API.
var (
	Codecs  = map[int]string{1: "H.264", 2: "MPEG-2", 3: "VC-1", 4: "XviD", 5: "HEVC"}
	Mediums = map[int]string{1: "Blu-ray/HD DVD", 3: "Encode", 4: "Capture", 5: "Remux", 6: "WEB-DL"}
)

// Settings configures an HDBits indexer.
type Settings struct {
	BaseURL  string `json:"baseUrl"`
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
	Codecs   []int  `json:"codecs,omitempty"`
	Mediums  []int  `json:"mediums,omitempty"`
}

// Validate checks required fields and filter values.
func (s *Settings) Validate() error {
	if s.Username == "" {
		return errors.New("username is required")
	}
	if s.APIKey == "" {
		return errors.New("api key is required")
	}
	for _, c := range s.Codecs {
		if _, ok := Codecs[c]; !ok {
			return fmt.Errorf("unknown codec %d", c)
		}
	}
	for _, m := range s.Mediums {
		if _, ok := Mediums[m]; !ok {
			return fmt.Errorf("unknown medium %d", m)
		}
	}
	return nil
}

// Implementation describes the adapter for the registry.
func Implementation() indexer.Implementation {
	return indexer.Implementation{
		Name:        Name,
		DisplayName: "HDBits",
		Description: "Best HD Tracker",
		Protocol:    types.ProtocolTorrent,
		Privacy:     types.PrivacyPrivate,
		Factory:     New,
	}
}

type HDBits struct {
	info     *types.IndexerDefinition
	settings Settings
	caps     *types.Capabilities
	logger   zerolog.Logger
}

// New builds an HDBits definition from indexer settings.
func New(info *types.IndexerDefinition, deps indexer.Deps) (indexer.Definition, error) {
	settings := Settings{BaseURL: DefaultBaseURL}
	if len(info.Settings) > 0 {
		if err := json.Unmarshal(info.Settings, &settings); err != nil {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
	}
	if settings.BaseURL == "" {
		settings.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(settings.BaseURL, "/") {
		settings.BaseURL += "/"
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &HDBits{
		info:     info,
		settings: settings,
		caps:     capabilities(),
		logger:   deps.Logger.With().Str("definition", Name).Logger(),
	}, nil
}

func capabilities() *types.Capabilities {
	m := categories.NewMap(categories.Other)
	m.AddMapping(strconv.Itoa(catMovie), categories.Movies, "Movie")
	m.AddMapping(strconv.Itoa(catTV), categories.TV, "TV")
	m.AddMapping(strconv.Itoa(catDocumentary), categories.TVDocumentary, "Documentary")
	m.AddMapping(strconv.Itoa(catMusic), categories.Audio, "Music")
	m.AddMapping(strconv.Itoa(catSport), categories.TVSport, "Sport")
	m.AddMapping(strconv.Itoa(catAudio), categories.Audio, "Audio Track")
	m.AddMapping(strconv.Itoa(catXXX), categories.XXX, "XXX")
	m.AddMapping(strconv.Itoa(catMiscDemo), categories.Other, "Misc/Demo")

	return &types.Capabilities{
		SearchParams:      []string{types.ParamQuery},
		TVSearchParams:    []string{types.ParamQuery, types.ParamSeason, types.ParamEpisode, types.ParamTvdbID},
		MovieSearchParams: []string{types.ParamQuery, types.ParamImdbID},
		LimitsMax:         pageLimit,
		LimitsDefault:     pageLimit,
		Categories:        m.Freeze(),
	}
}

func (h *HDBits) Capabilities() *types.Capabilities {
	return h.caps
}

type idQuery struct {
	ID      int `json:"id"`
	Season  int `json:"season,omitempty"`
	Episode int `json:"episode,omitempty"`
}

type torrentQuery struct {
	Username string   `json:"username"`
	Passkey  string   `json:"passkey"`
	Search   string   `json:"search,omitempty"`
	Category []int    `json:"category,omitempty"`
	Codec    []int    `json:"codec,omitempty"`
	Medium   []int    `json:"medium,omitempty"`
	Imdb     *idQuery `json:"imdb,omitempty"`
	Tvdb     *idQuery `json:"tvdb,omitempty"`
	Limit    int      `json:"limit"`
}

func (h *HDBits) query(c types.SearchCriteria) torrentQuery {
	q := torrentQuery{
		Username: h.settings.Username,
		Passkey:  h.settings.APIKey,
		Search:   c.SanitizedTerm(),
		Codec:    h.settings.Codecs,
		Medium:   h.settings.Mediums,
		Limit:    pageLimit,
	}
	for _, token := range h.caps.Categories.MapToSite(c.Categories) {
		if n, err := strconv.Atoi(token); err == nil && !slices.Contains(q.Category, n) {
			q.Category = append(q.Category, n)
		}
	}
	return q
}

func (h *HDBits) chain(q torrentQuery) *request.Chain {
	body, err := json.Marshal(q)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode query")
		return request.Empty()
	}
	req := request.NewJSON(h.settings.BaseURL+"api/torrents", body)
	// Searches have no side effects.
	req.Idempotent = true
	return request.Of(req)
}

func (h *HDBits) BasicRequests(c types.SearchCriteria) *request.Chain {
	return h.chain(h.query(c))
}

// MovieRequests looks up by IMDb id when one is given; the title is then
// left out since the site matches both.
func (h *HDBits) MovieRequests(c types.SearchCriteria) *request.Chain {
	q := h.query(c)
	if id := imdbNumber(c.ImdbID); id > 0 {
		q.Imdb = &idQuery{ID: id}
		q.Search = ""
	}
	return h.chain(q)
}

// TVRequests looks up by TVDB id, narrowed to season and episode.
func (h *HDBits) TVRequests(c types.SearchCriteria) *request.Chain {
	q := h.query(c)
	if c.TvdbID > 0 {
		q.Tvdb = &idQuery{ID: c.TvdbID, Season: c.Season}
		if ep, err := strconv.Atoi(c.Episode); err == nil {
			q.Tvdb.Episode = ep
		}
		q.Search = ""
	} else if token := c.EpisodeToken(); token != "" && q.Search != "" {
		q.Search += " " + token
	}
	return h.chain(q)
}

func imdbNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(id), "tt"))
	if err != nil {
		return 0
	}
	return n
}

type apiResponse struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Data    []torrentResponse `json:"data"`
}

type torrentResponse struct {
	ID             int64  `json:"id"`
	Hash           string `json:"hash"`
	Name           string `json:"name"`
	Descr          string `json:"descr"`
	TimesCompleted int    `json:"times_completed"`
	Seeders        int    `json:"seeders"`
	Leechers       int    `json:"leechers"`
	Size           int64  `json:"size"`
	NumFiles       int    `json:"numfiles"`
	UTAdded        int64  `json:"utadded"`
	Added          string `json:"added"`
	Freeleech      string `json:"freeleech"`
	TypeCategory   int    `json:"type_category"`
	TypeMedium     int    `json:"type_medium"`
	TypeOrigin     int    `json:"type_origin"`
	Imdb           *struct {
		ID int `json:"id"`
	} `json:"imdb"`
	Tvdb *struct {
		ID int `json:"id"`
	} `json:"tvdb"`
}

// ParseResponse reads the API envelope. Status 4 and 5 mean the
// credentials were refused.
func (h *HDBits) ParseResponse(resp *request.Response) ([]types.ReleaseInfo, error) {
	var env apiResponse
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, indexer.NewParseError(h.info.ID, h.info.Name, "invalid api response", err)
	}

	switch env.Status {
	case statusSuccess:
	case statusAuthDataMissing, statusAuthFailed:
		return nil, indexer.NewAuthError(h.info.ID, h.info.Name, fmt.Errorf("api status %d: %s", env.Status, env.Message))
	default:
		return nil, indexer.NewParseError(h.info.ID, h.info.Name, fmt.Sprintf("api status %d: %s", env.Status, env.Message), nil)
	}

	releases := make([]types.ReleaseInfo, 0, len(env.Data))
	for _, t := range env.Data {
		releases = append(releases, h.toRelease(t))
	}
	return releases, nil
}

func (h *HDBits) toRelease(t torrentResponse) types.ReleaseInfo {
	id := strconv.FormatInt(t.ID, 10)
	details := h.settings.BaseURL + "details.php?id=" + id
	download := h.settings.BaseURL + "download.php?" + url.Values{"id": {id}, "passkey": {h.settings.APIKey}}.Encode()

	r := types.ReleaseInfo{
		GUID:                 details,
		Title:                t.Name,
		Description:          t.Descr,
		DownloadURL:          download,
		InfoURL:              details,
		Size:                 t.Size,
		Categories:           h.caps.Categories.MapToStandard(strconv.Itoa(t.TypeCategory)),
		Protocol:             types.ProtocolTorrent,
		InfoHash:             strings.ToLower(t.Hash),
		Grabs:                types.IntPtr(t.TimesCompleted),
		Seeders:              types.IntPtr(t.Seeders),
		Peers:                types.IntPtr(t.Seeders + t.Leechers),
		Files:                types.IntPtr(t.NumFiles),
		DownloadVolumeFactor: downloadFactor(t),
		UploadVolumeFactor:   1,
	}
	if t.TypeCategory == catXXX {
		r.UploadVolumeFactor = 0
	}
	if t.UTAdded > 0 {
		r.PublishDate = time.Unix(t.UTAdded, 0).UTC()
	} else if added, err := time.Parse("2006-01-02T15:04:05-0700", t.Added); err == nil {
		r.PublishDate = added.UTC()
	}
	if t.Imdb != nil && t.Imdb.ID > 0 {
		r.ImdbID = fmt.Sprintf("tt%07d", t.Imdb.ID)
	}
	if t.Tvdb != nil {
		r.TvdbID = t.Tvdb.ID
	}
	return r
}

// downloadFactor applies the site's freeleech rules.
func downloadFactor(t torrentResponse) float64 {
	switch {
	case t.Freeleech == "yes", t.TypeCategory == catXXX:
		return 0
	case t.TypeMedium == 1, t.TypeMedium == 4, t.TypeMedium == 5, t.TypeOrigin == 1:
		return 0.5
	case t.TypeCategory == catTV:
		return 0.75
	default:
		return 1
	}
}
