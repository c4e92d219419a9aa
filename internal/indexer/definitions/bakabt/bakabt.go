// Package bakabt implements the BakaBT private anime tracker: form login
// with a scraped login key, HTML browse pages and 30 day cookie sessions.
package bakabt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/parse"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/selector"
	"github.com/slipstream/indexarr/internal/indexer/session"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

const (
	// Name is the implementation name used in indexer definitions.
	Name = "bakabt"

	DefaultBaseURL = "https://bakabt.me/"

	sessionTTL      = 30 * 24 * time.Hour
	minimumSeedTime = 48 * 60 * 60
	browsePath      = "browse.php?only=0&hentai=1&incomplete=1&lossless=1&hd=1&multiaudio=1&bonus=1&reorder=1&q="
	logoutSelector  = `a[href*="logout.php"]`
	rowSelector     = ".torrents tr.torrent, .torrents tr.torrent_alt"
)

var errLoginRejected = errors.New("login rejected: no logout link after submitting credentials")

// trailing " E12" or " 12" episode marker on a search term
var episodeSuffix = regexp.MustCompile(`^(.*)\s(?:[Ee]\d+|\d+)$`)

// Settings configures a BakaBT indexer.
type Settings struct {
	BaseURL        string `json:"baseUrl"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	AddRomajiTitle bool   `json:"addRomajiTitle"`
	AppendSeason   bool   `json:"appendSeason"`
}

// Validate checks required fields.
func (s *Settings) Validate() error {
	if s.Username == "" {
		return errors.New("username is required")
	}
	if s.Password == "" {
		return errors.New("password is required")
	}
	if _, err := url.Parse(s.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	return nil
}

// Implementation describes the adapter for the registry.
func Implementation() indexer.Implementation {
	return indexer.Implementation{
		Name:        Name,
		DisplayName: "BakaBT",
		Description: "Anime Community",
		Protocol:    types.ProtocolTorrent,
		Privacy:     types.PrivacyPrivate,
		Factory:     New,
	}
}

// BakaBT is the site definition.
type BakaBT struct {
	info     *types.IndexerDefinition
	settings Settings
	caps     *types.Capabilities
	exec     indexer.Executor
	now      func() time.Time
	logger   zerolog.Logger
}

// New builds a BakaBT definition from indexer settings.
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

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &BakaBT{
		info:     info,
		settings: settings,
		caps:     capabilities(),
		exec:     deps.Executor,
		now:      now,
		logger:   deps.Logger.With().Str("definition", Name).Logger(),
	}, nil
}

func capabilities() *types.Capabilities {
	m := categories.NewMap(categories.TVAnime)
	m.AddMapping("1", categories.TVAnime, "Anime Series")
	m.AddMapping("2", categories.TVAnime, "OVA")
	m.AddMapping("3", categories.AudioOther, "Soundtrack")
	m.AddMapping("4", categories.BooksComics, "Manga")
	m.AddMapping("5", categories.TVAnime, "Anime Movie")
	m.AddMapping("6", categories.TVOther, "Live Action")
	m.AddMapping("7", categories.BooksOther, "Artbook")
	m.AddMapping("8", categories.AudioVideo, "Music Video")
	m.AddMapping("9", categories.BooksEBook, "Light Novel")

	return &types.Capabilities{
		SearchParams:      []string{types.ParamQuery},
		TVSearchParams:    []string{types.ParamQuery, types.ParamSeason, types.ParamEpisode},
		MusicSearchParams: []string{types.ParamQuery},
		BookSearchParams:  []string{types.ParamQuery},
		Categories:        m.Freeze(),
	}
}

func (b *BakaBT) Capabilities() *types.Capabilities {
	return b.caps
}

// BasicRequests serves basic, TV, music and book searches; the site has a
// single free-text browse endpoint.
func (b *BakaBT) BasicRequests(c types.SearchCriteria) *request.Chain {
	term := c.SanitizedTerm()
	if m := episodeSuffix.FindStringSubmatch(term); m != nil {
		term = m[1]
	}
	return request.Of(request.NewGet(b.settings.BaseURL + browsePath + url.QueryEscape(term)))
}

// Login posts credentials together with the loginKey token from the login page.
func (b *BakaBT) Login(ctx context.Context) (*session.Session, error) {
	loginURL := b.settings.BaseURL + "login.php"

	page, err := b.exec.Execute(ctx, request.NewGet(loginURL), nil)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"username": {b.settings.Username},
		"password": {b.settings.Password},
		"returnto": {"/index.php"},
	}
	if doc, err := selector.NewHTML(page.Body); err == nil {
		if key, ok := doc.Select(`input[name="loginKey"]`).Attr("value"); ok {
			form.Set("loginKey", key)
		}
	}

	post := request.NewPost(loginURL, form)
	post.NoRedirect = true
	resp, err := b.exec.Execute(ctx, post, page.Cookies)
	if err != nil {
		return nil, err
	}
	cookies := session.MergeCookies(page.Cookies, resp.Cookies)

	for hops := 0; resp.IsRedirect() && hops < 5; hops++ {
		next := request.NewGet(resp.Location())
		next.NoRedirect = true
		resp, err = b.exec.Execute(ctx, next, cookies)
		if err != nil {
			return nil, err
		}
		cookies = session.MergeCookies(cookies, resp.Cookies)
	}

	if !loggedIn(resp) {
		return nil, indexer.NewAuthError(b.info.ID, b.info.Name, errLoginRejected)
	}

	b.logger.Debug().Msg("BakaBT authentication succeeded")
	return &session.Session{Cookies: cookies, ExpiresAt: b.now().Add(sessionTTL)}, nil
}

// LoginNeeded reports a page served without the logout link.
func (b *BakaBT) LoginNeeded(resp *request.Response) bool {
	return !loggedIn(resp)
}

func loggedIn(resp *request.Response) bool {
	doc, err := selector.NewHTML(resp.Body)
	if err != nil {
		return false
	}
	return doc.Exists(logoutSelector)
}

// ParseResponse reads the browse table. A row's category header applies to
// following rows until another header appears.
func (b *BakaBT) ParseResponse(resp *request.Response) ([]types.ReleaseInfo, error) {
	doc, err := selector.NewHTML(resp.Body)
	if err != nil {
		return nil, err
	}

	rows := doc.SelectAll(rowSelector)
	if rows.Length() == 0 && !doc.Exists(".torrents") && !doc.Exists(logoutSelector) {
		return nil, errors.New("no torrent table in response")
	}

	releases := make([]types.ReleaseInfo, 0, rows.Length())
	current := b.caps.Categories.Defaults()
	skipped := 0

	rows.Each(func(_ int, row *goquery.Selection) {
		current = b.nextCategory(row, current)

		parsed, err := b.parseRow(row, current)
		if err != nil {
			skipped++
			b.logger.Debug().Err(err).Msg("Skipping row")
			return
		}
		releases = append(releases, parsed...)
	})

	if skipped > 0 {
		b.logger.Warn().Int("skipped", skipped).Int("parsed", len(releases)).Msg("Skipped unusable rows")
	}
	return releases, nil
}

func (b *BakaBT) nextCategory(row *goquery.Selection, current []int) []int {
	name := selector.Attr(row.Find("td.category span").First(), "title")
	if name == "" {
		return current
	}
	return b.caps.Categories.MapDescription(name)
}

func (b *BakaBT) parseRow(row *goquery.Selection, cats []int) ([]types.ReleaseInfo, error) {
	link := row.Find("a.title, a.alt_title").First()
	if link.Length() == 0 {
		return nil, errors.New("row has no title link")
	}
	title := selector.Text(link)
	if title == "" {
		return nil, errors.New("row has an empty title")
	}

	peers := row.Find(".peers").First()
	peerLinks := peers.Find("a")
	download := selector.Attr(peerLinks.First(), "href")
	if download == "" {
		return nil, errors.New("row has no download link")
	}

	split := releaseInfoIndex(title)
	series, info := title[:split], title[split:]
	names := strings.Split(series, " | ")
	if len(names) > 1 && !b.settings.AddRomajiTitle {
		names = names[1:]
	}

	guid := b.settings.BaseURL + strings.TrimPrefix(selector.Attr(link, "href"), "/")
	template := types.ReleaseInfo{
		GUID:                 guid,
		InfoURL:              guid,
		DownloadURL:          b.settings.BaseURL + strings.TrimPrefix(download, "/"),
		Categories:           cats,
		Size:                 parse.Size(selector.Text(row.Find(".size").First())),
		PublishDate:          b.publishDate(selector.Text(row.Find(".added").First())),
		Protocol:             types.ProtocolTorrent,
		MinimumRatio:         types.Float64Ptr(1),
		MinimumSeedTime:      types.Int64Ptr(minimumSeedTime),
		DownloadVolumeFactor: 1,
		UploadVolumeFactor:   1,
	}
	if row.Find("span.freeleech").Length() > 0 {
		template.DownloadVolumeFactor = 0
	}

	grabs := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(selector.OwnText(peers)), "/"))
	if n, err := parse.Count(grabs); err == nil {
		template.Grabs = types.IntPtr(n)
	}
	if peerLinks.Length() >= 2 {
		seeders, errS := parse.Count(selector.Text(peerLinks.Eq(0)))
		leechers, errL := parse.Count(selector.Text(peerLinks.Eq(1)))
		if errS == nil {
			template.Seeders = types.IntPtr(seeders)
			if errL == nil {
				template.Peers = types.IntPtr(seeders + leechers)
			}
		}
	}

	out := make([]types.ReleaseInfo, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		r := template
		r.Categories = append([]int(nil), cats...)
		r.Title = strings.TrimSpace(name + " " + info)
		if b.settings.AppendSeason && !strings.Contains(r.Title, "Season") {
			at := releaseInfoIndex(r.Title)
			r.Title = r.Title[:at] + " Season 1 " + r.Title[at:]
		}
		r.Title = strings.Join(strings.Fields(r.Title), " ")
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.New("row title has no usable names")
	}
	return out, nil
}

func (b *BakaBT) publishDate(s string) time.Time {
	t, err := parse.Date(s, b.now())
	if err != nil {
		return b.now()
	}
	return t
}

// releaseInfoIndex returns where the "(...)" or "[...]" release details
// start, or len(title).
func releaseInfoIndex(title string) int {
	at := len(title)
	if i := strings.IndexByte(title, '('); i >= 0 && i < at {
		at = i
	}
	if i := strings.IndexByte(title, '['); i >= 0 && i < at {
		at = i
	}
	return at
}
