package applications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer/categories"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/metrics"
)

// Remote field names shared by the Newznab and Torznab templates.
const (
	fieldBaseURL    = "baseUrl"
	fieldAPIPath    = "apiPath"
	fieldAPIKey     = "apiKey"
	fieldCategories = "categories"

	implNewznab = "Newznab"
	implTorznab = "Torznab"

	nameSuffix = " (Indexarr)"
)

// appIndexerPattern extracts the local indexer id from a synced base url.
var appIndexerPattern = regexp.MustCompile(`/(\d+)/?$`)

// Flavor describes one application type. All flavors share the *arr REST
// API and differ in version, defaults and enable-flag consensus.
type Flavor struct {
	Implementation    string
	DisplayName       string
	APIVersion        string
	MinVersion        string
	DefaultCategories []int
	TestCategory      int
	Policy            ConsensusPolicy
}

var flavors = map[string]Flavor{
	"radarr": {
		Implementation:    "radarr",
		DisplayName:       "Radarr",
		APIVersion:        "v3",
		MinVersion:        "3.0.0",
		DefaultCategories: defaultSyncCategories(categories.Movies),
		TestCategory:      categories.Movies,
		Policy:            AnyEnabled,
	},
	"sonarr": {
		Implementation:    "sonarr",
		DisplayName:       "Sonarr",
		APIVersion:        "v3",
		MinVersion:        "3.0.0",
		DefaultCategories: defaultSyncCategories(categories.TV),
		TestCategory:      categories.TV,
		Policy:            AnyEnabled,
	},
	"lidarr": {
		Implementation:    "lidarr",
		DisplayName:       "Lidarr",
		APIVersion:        "v1",
		MinVersion:        "1.0.0",
		DefaultCategories: defaultSyncCategories(categories.Audio),
		TestCategory:      categories.Audio,
		Policy:            AnyEnabled,
	},
	"readarr": {
		Implementation:    "readarr",
		DisplayName:       "Readarr",
		APIVersion:        "v1",
		MinVersion:        "0.1.0",
		DefaultCategories: defaultSyncCategories(categories.Books),
		TestCategory:      categories.Books,
		Policy:            Unanimous,
	},
}

// LookupFlavor finds a flavor by implementation name.
func LookupFlavor(impl string) (Flavor, bool) {
	f, ok := flavors[strings.ToLower(impl)]
	return f, ok
}

// Flavors lists the supported application types ordered by name.
func Flavors() []Flavor {
	out := make([]Flavor, 0, len(flavors))
	for _, f := range flavors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Implementation < out[j].Implementation })
	return out
}

// Integration is the sync contract one paired application implements.
type Integration interface {
	Test(ctx context.Context) error
	GetMappings(ctx context.Context) (map[int64]int64, error)
	AddIndexer(ctx context.Context, def *types.IndexerDefinition) (Action, error)
	UpdateIndexer(ctx context.Context, def *types.IndexerDefinition) (Action, error)
	RemoveIndexer(ctx context.Context, indexerID int64) (Action, error)
}

// ArrConfig configures an Arr integration.
type ArrConfig struct {
	App *Application
	// PublicURL is this registry's externally reachable base url.
	PublicURL string
	// APIKey is the key remote applications present to this registry.
	APIKey     string
	Schema     *SchemaCache
	Maps       MapStore
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Arr syncs indexers into one Radarr, Sonarr, Lidarr or Readarr instance.
type Arr struct {
	app       *Application
	flavor    Flavor
	client    *Client
	schema    *SchemaCache
	maps      MapStore
	publicURL string
	apiKey    string
	logger    zerolog.Logger
}

var _ Integration = (*Arr)(nil)

// NewArr creates the integration for app.
func NewArr(cfg ArrConfig) (*Arr, error) {
	if err := cfg.App.Validate(); err != nil {
		return nil, err
	}
	if cfg.PublicURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: registry public url and api key are required", ErrInvalidApplication)
	}
	flavor, _ := LookupFlavor(cfg.App.Implementation)

	logger := cfg.Logger.With().
		Str("component", "app-sync").
		Str("app", cfg.App.Name).
		Logger()

	client, err := NewClient(ClientConfig{
		URL:        cfg.App.BaseURL,
		APIKey:     cfg.App.APIKey,
		APIVersion: flavor.APIVersion,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
		Logger:     &logger,
	})
	if err != nil {
		return nil, err
	}

	schema := cfg.Schema
	if schema == nil {
		schema = NewSchemaCache(DefaultSchemaTTL)
	}

	return &Arr{
		app:       cfg.App,
		flavor:    flavor,
		client:    client,
		schema:    schema,
		maps:      cfg.Maps,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		apiKey:    cfg.APIKey,
		logger:    logger,
	}, nil
}

// Test checks reachability, the remote version and that the application
// accepts an indexer pointing back at this registry.
func (a *Arr) Test(ctx context.Context) error {
	status, err := a.client.SystemStatus(ctx)
	if err != nil {
		return err
	}
	if err := checkVersion(status.Version, a.flavor.MinVersion); err != nil {
		return err
	}

	catMap := categories.NewMap(a.flavor.TestCategory)
	catMap.AddMapping("1", a.flavor.TestCategory, "")
	probe := &types.IndexerDefinition{
		Name:     "Test",
		Protocol: types.ProtocolUsenet,
		Enabled:  true,
		Capabilities: &types.Capabilities{
			Categories: catMap.Freeze(),
		},
	}
	payload, err := a.buildPayload(ctx, probe, 0)
	if err != nil {
		return err
	}
	if err := a.client.TestIndexer(ctx, payload); err != nil {
		return err
	}

	a.logger.Info().Str("version", status.Version).Msg("Application test successful")
	return nil
}

// checkVersion compares the leading major.minor.patch of version to minimum.
func checkVersion(version, minimum string) error {
	got, err := parseVersion(version)
	if err != nil {
		return fmt.Errorf("%w: cannot parse version %q", ErrUnsupportedVersion, version)
	}
	want := semver.MustParse(minimum)
	if got.LessThan(want) {
		return fmt.Errorf("%w: %s is older than %s", ErrUnsupportedVersion, got, want)
	}
	return nil
}

// parseVersion accepts the four-part versions the *arr applications report.
func parseVersion(v string) (*semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return semver.NewVersion(strings.Join(parts, "."))
}

// GetMappings lists remote indexers that point back at this registry with
// our api key, keyed by remote id.
func (a *Arr) GetMappings(ctx context.Context) (map[int64]int64, error) {
	remote, err := a.client.GetIndexers(ctx)
	if err != nil {
		return nil, err
	}
	mappings := make(map[int64]int64)
	for i := range remote {
		r := &remote[i]
		if localID, ok := a.ownedBy(r); ok {
			mappings[r.ID] = localID
		}
	}
	return mappings, nil
}

func (a *Arr) ownedBy(r *RemoteIndexer) (int64, bool) {
	if r.Implementation != implNewznab && r.Implementation != implTorznab {
		return 0, false
	}
	if r.StringField(fieldAPIKey) != a.apiKey {
		return 0, false
	}
	baseURL := r.StringField(fieldBaseURL)
	if !strings.HasPrefix(strings.ToLower(baseURL), strings.ToLower(a.publicURL)+"/") {
		return 0, false
	}
	m := appIndexerPattern.FindStringSubmatch(baseURL)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Eligible reports whether def belongs in this application: it must be
// linked by a profile (or have none) and share a category with the sync
// filter.
func (a *Arr) Eligible(def *types.IndexerDefinition) bool {
	return linked(def, a.app.ID) && len(a.syncCategories(def)) > 0
}

func (a *Arr) syncCategories(def *types.IndexerDefinition) []int {
	filter := a.app.SyncCategories
	if len(filter) == 0 {
		filter = a.flavor.DefaultCategories
	}
	return def.Capabilities.SupportedCategories(filter)
}

// AddIndexer creates the remote copy of def and records the mapping. An
// ineligible indexer leaves both sides untouched.
func (a *Arr) AddIndexer(ctx context.Context, def *types.IndexerDefinition) (Action, error) {
	if !a.Eligible(def) {
		a.logger.Debug().Int64("indexer", def.ID).Msg("Indexer not eligible, skipping add")
		return ActionSkipped, nil
	}

	if _, err := a.maps.GetMapping(ctx, a.app.ID, def.ID); err == nil {
		return a.UpdateIndexer(ctx, def)
	} else if !errors.Is(err, ErrMappingNotFound) {
		return ActionNone, err
	}

	return a.add(ctx, def)
}

func (a *Arr) add(ctx context.Context, def *types.IndexerDefinition) (Action, error) {
	payload, err := a.buildPayload(ctx, def, 0)
	if err != nil {
		return ActionNone, err
	}
	created, err := a.client.AddIndexer(ctx, payload)
	if err != nil {
		a.invalidateOnReject(err)
		return ActionNone, err
	}
	if _, err := a.maps.InsertMapping(ctx, AppIndexerMap{
		AppID:           a.app.ID,
		IndexerID:       def.ID,
		RemoteIndexerID: created.ID,
	}); err != nil {
		return ActionNone, err
	}

	a.logger.Info().Int64("indexer", def.ID).Int64("remote_id", created.ID).
		Str("name", def.Name).Msg("Added indexer to application")
	return ActionAdded, nil
}

// UpdateIndexer rewrites the remote copy of def when it differs from what
// sync would produce. A vanished remote copy is re-added if def is still
// eligible; an indexer that lost eligibility is removed.
func (a *Arr) UpdateIndexer(ctx context.Context, def *types.IndexerDefinition) (Action, error) {
	mapping, err := a.maps.GetMapping(ctx, a.app.ID, def.ID)
	if errors.Is(err, ErrMappingNotFound) {
		return a.AddIndexer(ctx, def)
	}
	if err != nil {
		return ActionNone, err
	}

	if !a.Eligible(def) {
		a.logger.Debug().Int64("indexer", def.ID).Msg("Indexer no longer eligible, removing")
		return a.RemoveIndexer(ctx, def.ID)
	}

	remote, err := a.client.GetIndexer(ctx, mapping.RemoteIndexerID)
	if errors.Is(err, ErrRemoteNotFound) {
		a.logger.Warn().Int64("indexer", def.ID).Int64("remote_id", mapping.RemoteIndexerID).
			Msg("Remote indexer disappeared, re-adding")
		if err := a.maps.DeleteMapping(ctx, mapping.ID); err != nil {
			return ActionNone, err
		}
		metrics.MappingRepairs.WithLabelValues(a.app.Name, "stale").Inc()
		return a.add(ctx, def)
	}
	if err != nil {
		return ActionNone, err
	}

	payload, err := a.buildPayload(ctx, def, remote.ID)
	if err != nil {
		return ActionNone, err
	}
	payload.Tags = remote.Tags

	want, have := payload.view(), remote.view()
	if cmp.Equal(want, have) {
		return ActionNone, nil
	}
	a.logger.Debug().Int64("indexer", def.ID).Str("diff", cmp.Diff(have, want)).
		Msg("Remote indexer differs")

	if _, err := a.client.UpdateIndexer(ctx, payload); err != nil {
		a.invalidateOnReject(err)
		return ActionNone, err
	}
	a.logger.Info().Int64("indexer", def.ID).Int64("remote_id", remote.ID).
		Msg("Updated indexer in application")
	return ActionUpdated, nil
}

// RemoveIndexer deletes the remote copy, then the mapping. Without a mapping
// nothing happens.
func (a *Arr) RemoveIndexer(ctx context.Context, indexerID int64) (Action, error) {
	mapping, err := a.maps.GetMapping(ctx, a.app.ID, indexerID)
	if errors.Is(err, ErrMappingNotFound) {
		return ActionNone, nil
	}
	if err != nil {
		return ActionNone, err
	}

	if err := a.client.DeleteIndexer(ctx, mapping.RemoteIndexerID); err != nil {
		return ActionNone, err
	}
	if err := a.maps.DeleteMapping(ctx, mapping.ID); err != nil {
		return ActionNone, err
	}

	a.logger.Info().Int64("indexer", indexerID).Int64("remote_id", mapping.RemoteIndexerID).
		Msg("Removed indexer from application")
	return ActionRemoved, nil
}

// buildPayload fills the schema template for def's protocol.
func (a *Arr) buildPayload(ctx context.Context, def *types.IndexerDefinition, remoteID int64) (*RemoteIndexer, error) {
	templates, err := a.schema.Get(ctx, a.client.BaseURL(), a.client.GetSchema)
	if err != nil {
		return nil, err
	}

	impl := implTorznab
	if def.Protocol == types.ProtocolUsenet {
		impl = implNewznab
	}

	var tmpl *RemoteIndexer
	for i := range templates {
		if strings.EqualFold(templates[i].Implementation, impl) {
			tmpl = &templates[i]
			break
		}
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaMissing, impl)
	}

	flags := ResolveFlags(def, a.app.ID, a.flavor.Policy)
	payload := &RemoteIndexer{
		ID:                      remoteID,
		Name:                    def.Name + nameSuffix,
		Implementation:          impl,
		ImplementationName:      tmpl.ImplementationName,
		ConfigContract:          tmpl.ConfigContract,
		Protocol:                tmpl.Protocol,
		EnableRss:               flags.Rss,
		EnableAutomaticSearch:   flags.AutomaticSearch,
		EnableInteractiveSearch: flags.InteractiveSearch,
		Priority:                def.Priority,
		Tags:                    []int64{},
		Fields:                  tmpl.Fields,
	}
	payload.SetField(fieldBaseURL, fmt.Sprintf("%s/%d/", a.publicURL, def.ID))
	payload.SetField(fieldAPIPath, "/api")
	payload.SetField(fieldAPIKey, a.apiKey)
	payload.SetField(fieldCategories, a.syncCategories(def))
	return payload, nil
}

// invalidateOnReject drops cached templates after a validation failure so
// the next attempt uses the current schema.
func (a *Arr) invalidateOnReject(err error) {
	if IsRemoteRejected(err) {
		a.logger.Warn().Err(err).Msg("Application rejected indexer, invalidating schema cache")
		a.schema.Invalidate(a.client.BaseURL())
	}
}
