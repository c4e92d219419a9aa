// Package types contains shared type definitions for indexer packages.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/slipstream/indexarr/internal/indexer/categories"
)

// Protocol represents the download protocol.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// Privacy represents indexer privacy level.
type Privacy string

const (
	PrivacyPublic      Privacy = "public"
	PrivacySemiPrivate Privacy = "semi-private"
	PrivacyPrivate     Privacy = "private"
)

// SearchKind identifies the shape of a search query.
type SearchKind string

const (
	SearchKindBasic SearchKind = "search"
	SearchKindTV    SearchKind = "tvsearch"
	SearchKindMovie SearchKind = "movie"
	SearchKindMusic SearchKind = "music"
	SearchKindBook  SearchKind = "book"
)

// AppProfile controls how an indexer is exposed to the applications it is
// linked to.
type AppProfile struct {
	ID                      int64   `json:"id"`
	Name                    string  `json:"name"`
	EnableRss               bool    `json:"enableRss"`
	EnableAutomaticSearch   bool    `json:"enableAutomaticSearch"`
	EnableInteractiveSearch bool    `json:"enableInteractiveSearch"`
	ApplicationIDs          []int64 `json:"applicationIds"`
}

// LinksApplication reports whether the profile applies to appID.
func (p AppProfile) LinksApplication(appID int64) bool {
	return slices.Contains(p.ApplicationIDs, appID)
}

// IndexerDefinition represents a configured indexer.
type IndexerDefinition struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Implementation string          `json:"implementation"`
	Protocol       Protocol        `json:"protocol"`
	Privacy        Privacy         `json:"privacy"`
	Enabled        bool            `json:"enabled"`
	Priority       int             `json:"priority"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	AppProfiles    []AppProfile    `json:"appProfiles,omitempty"`
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`

	// Capabilities is filled from the adapter implementation and never persisted.
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// ProfilesFor returns the profiles linking this indexer to appID.
func (d *IndexerDefinition) ProfilesFor(appID int64) []AppProfile {
	var out []AppProfile
	for _, p := range d.AppProfiles {
		if p.LinksApplication(appID) {
			out = append(out, p)
		}
	}
	return out
}

// SearchCriteria defines search parameters.
type SearchCriteria struct {
	Kind       SearchKind `json:"kind"`
	Query      string     `json:"query,omitempty"`
	Categories []int      `json:"categories,omitempty"`

	// Movie-specific
	ImdbID string `json:"imdbId,omitempty"`
	TmdbID int    `json:"tmdbId,omitempty"`
	Year   int    `json:"year,omitempty"`

	// TV-specific
	TvdbID  int    `json:"tvdbId,omitempty"`
	Season  int    `json:"season,omitempty"`
	Episode string `json:"episode,omitempty"`

	// Music/book-specific
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Author string `json:"author,omitempty"`
	Title  string `json:"title,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

var unsafeTermChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-'.:&]+`)

// SanitizedTerm returns the free-text query with punctuation the sites choke
// on removed and whitespace collapsed.
func (c SearchCriteria) SanitizedTerm() string {
	term := unsafeTermChars.ReplaceAllString(c.Query, " ")
	return strings.Join(strings.Fields(term), " ")
}

// EpisodeToken formats the season/episode pair the way most trackers index it.
func (c SearchCriteria) EpisodeToken() string {
	switch {
	case c.Season > 0 && c.Episode != "":
		return fmt.Sprintf("S%02dE%s", c.Season, padEpisode(c.Episode))
	case c.Season > 0:
		return fmt.Sprintf("S%02d", c.Season)
	default:
		return ""
	}
}

// IsRSS reports whether the criteria is an unfiltered browse of the latest releases.
func (c SearchCriteria) IsRSS() bool {
	return c.SanitizedTerm() == "" && c.ImdbID == "" && c.TmdbID == 0 && c.TvdbID == 0 &&
		c.Season == 0 && c.Episode == "" && c.Artist == "" && c.Author == "" && c.Title == ""
}

// ReleaseInfo represents a search result from an indexer.
// Torrent-only fields are nil for usenet releases.
type ReleaseInfo struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DownloadURL string    `json:"downloadUrl"`
	InfoURL     string    `json:"infoUrl,omitempty"`
	MagnetURL   string    `json:"magnetUrl,omitempty"`
	Size        int64     `json:"size"`
	PublishDate time.Time `json:"publishDate"`
	Categories  []int     `json:"categories"`

	// Indexer info
	IndexerID       int64    `json:"indexerId"`
	IndexerName     string   `json:"indexer"`
	IndexerPriority int      `json:"indexerPriority"`
	Protocol        Protocol `json:"protocol"`

	// External IDs
	ImdbID string `json:"imdbId,omitempty"`
	TvdbID int    `json:"tvdbId,omitempty"`

	Grabs    *int   `json:"grabs,omitempty"`
	Seeders  *int   `json:"seeders,omitempty"`
	Peers    *int   `json:"peers,omitempty"`
	Files    *int   `json:"files,omitempty"`
	InfoHash string `json:"infoHash,omitempty"`

	MinimumRatio         *float64 `json:"minimumRatio,omitempty"`
	MinimumSeedTime      *int64   `json:"minimumSeedTime,omitempty"` // seconds
	DownloadVolumeFactor float64  `json:"downloadVolumeFactor"`      // 0 = freeleech
	UploadVolumeFactor   float64  `json:"uploadVolumeFactor"`        // 2 = double upload
}

// Capabilities describes what an indexer supports.
type Capabilities struct {
	SearchParams      []string `json:"searchParams"`
	TVSearchParams    []string `json:"tvSearchParams"`
	MovieSearchParams []string `json:"movieSearchParams"`
	MusicSearchParams []string `json:"musicSearchParams"`
	BookSearchParams  []string `json:"bookSearchParams"`

	LimitsMax     int `json:"limitsMax"`
	LimitsDefault int `json:"limitsDefault"`

	Categories *categories.Map `json:"-"`
}

// Search parameter names, as used in Torznab capability documents.
const (
	ParamQuery   = "q"
	ParamSeason  = "season"
	ParamEpisode = "ep"
	ParamImdbID  = "imdbid"
	ParamTmdbID  = "tmdbid"
	ParamTvdbID  = "tvdbid"
	ParamYear    = "year"
	ParamArtist  = "artist"
	ParamAlbum   = "album"
	ParamAuthor  = "author"
	ParamTitle   = "title"
)

// Supports reports whether the indexer accepts searches of kind.
func (c *Capabilities) Supports(kind SearchKind) bool {
	return len(c.Params(kind)) > 0
}

// Params returns the query parameters understood for kind.
func (c *Capabilities) Params(kind SearchKind) []string {
	switch kind {
	case SearchKindTV:
		return c.TVSearchParams
	case SearchKindMovie:
		return c.MovieSearchParams
	case SearchKindMusic:
		return c.MusicSearchParams
	case SearchKindBook:
		return c.BookSearchParams
	default:
		return c.SearchParams
	}
}

// SupportedCategories intersects the indexer's categories with filter.
func (c *Capabilities) SupportedCategories(filter []int) []int {
	if c == nil || c.Categories == nil {
		return []int{}
	}
	return c.Categories.SupportedCategories(filter)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

func padEpisode(ep string) string {
	if len(ep) == 1 && ep[0] >= '0' && ep[0] <= '9' {
		return "0" + ep
	}
	return ep
}
