package applications

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/metrics"
)

// IndexerSource provides the local indexer definitions with capabilities.
type IndexerSource interface {
	Get(ctx context.Context, id int64) (*types.IndexerDefinition, error)
	List(ctx context.Context) ([]*types.IndexerDefinition, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	PublicURL  string
	APIKey     string
	SchemaTTL  time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Manager owns the paired applications and runs every sync operation.
// It implements indexer.ChangeListener.
type Manager struct {
	store    Store
	maps     MapStore
	indexers IndexerSource
	schema   *SchemaCache
	cfg      ManagerConfig
	locks    *pairLocks
	logger   zerolog.Logger

	integrationFor func(app *Application) (Integration, error)
}

// NewManager creates a Manager. store and maps are usually the same SQLStore.
func NewManager(store Store, maps MapStore, indexers IndexerSource, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		cfg.HTTPClient = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		}
	}
	m := &Manager{
		store:    store,
		maps:     maps,
		indexers: indexers,
		schema:   NewSchemaCache(cfg.SchemaTTL),
		cfg:      cfg,
		locks:    newPairLocks(),
		logger:   logger.With().Str("component", "applications").Logger(),
	}
	m.integrationFor = m.newArr
	return m
}

func (m *Manager) newArr(app *Application) (Integration, error) {
	return NewArr(ArrConfig{
		App:        app,
		PublicURL:  m.cfg.PublicURL,
		APIKey:     m.cfg.APIKey,
		Schema:     m.schema,
		Maps:       m.maps,
		HTTPClient: m.cfg.HTTPClient,
		Timeout:    m.cfg.Timeout,
		Logger:     m.logger,
	})
}

// Get returns one application.
func (m *Manager) Get(ctx context.Context, id int64) (*Application, error) {
	return m.store.GetApplication(ctx, id)
}

// List returns every application.
func (m *Manager) List(ctx context.Context) ([]*Application, error) {
	return m.store.ListApplications(ctx)
}

// Create validates and stores a new application. Missing sync settings get
// the flavor defaults.
func (m *Manager) Create(ctx context.Context, app *Application) (*Application, error) {
	applyDefaults(app)
	if err := app.Validate(); err != nil {
		return nil, err
	}
	created, err := m.store.CreateApplication(ctx, app)
	if err != nil {
		return nil, err
	}
	m.logger.Info().Int64("id", created.ID).Str("name", created.Name).
		Str("implementation", created.Implementation).Msg("Created application")
	return created, nil
}

// Update replaces an application's settings.
func (m *Manager) Update(ctx context.Context, app *Application) (*Application, error) {
	existing, err := m.store.GetApplication(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	applyDefaults(app)
	if err := app.Validate(); err != nil {
		return nil, err
	}
	updated, err := m.store.UpdateApplication(ctx, app)
	if err != nil {
		return nil, err
	}
	if existing.BaseURL != updated.BaseURL {
		m.schema.Invalidate(existing.BaseURL)
	}
	m.logger.Info().Int64("id", updated.ID).Str("name", updated.Name).Msg("Updated application")
	return updated, nil
}

// Delete removes an application and its mappings. Remote indexers are left
// in place.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.store.DeleteApplication(ctx, id); err != nil {
		return err
	}
	m.logger.Info().Int64("id", id).Msg("Deleted application")
	return nil
}

// Test checks an application configuration without saving it.
func (m *Manager) Test(ctx context.Context, app *Application) error {
	applyDefaults(app)
	integ, err := m.integrationFor(app)
	if err != nil {
		return err
	}
	return integ.Test(ctx)
}

func applyDefaults(app *Application) {
	if app.SyncLevel == "" {
		app.SyncLevel = SyncFull
	}
	if len(app.SyncCategories) == 0 {
		if f, ok := LookupFlavor(app.Implementation); ok {
			app.SyncCategories = slices.Clone(f.DefaultCategories)
		}
	}
}

// SyncIndexer runs one add, update or remove for a single pair.
func (m *Manager) SyncIndexer(ctx context.Context, appID int64, action SyncAction, indexerID int64) (Action, error) {
	app, err := m.store.GetApplication(ctx, appID)
	if err != nil {
		return ActionNone, err
	}
	if app.SyncLevel == SyncDisabled {
		return ActionSkipped, nil
	}
	integ, err := m.integrationFor(app)
	if err != nil {
		return ActionNone, err
	}

	var def *types.IndexerDefinition
	if action != SyncActionRemove {
		if def, err = m.indexers.Get(ctx, indexerID); err != nil {
			return ActionNone, err
		}
	}
	return m.run(ctx, app, integ, action, indexerID, def)
}

// run executes one operation under the pair lock and records its outcome.
func (m *Manager) run(ctx context.Context, app *Application, integ Integration, action SyncAction, indexerID int64, def *types.IndexerDefinition) (Action, error) {
	unlock := m.locks.lock(app.ID, indexerID)
	defer unlock()

	var (
		result Action
		err    error
	)
	switch action {
	case SyncActionAdd:
		result, err = integ.AddIndexer(ctx, def)
	case SyncActionUpdate:
		result, err = integ.UpdateIndexer(ctx, def)
	case SyncActionRemove:
		result, err = integ.RemoveIndexer(ctx, indexerID)
	default:
		return ActionNone, fmt.Errorf("unknown sync action %q", action)
	}

	if err != nil {
		metrics.SyncTotal.WithLabelValues(app.Name, string(action), "error").Inc()
		return ActionNone, wrapSync(app.Name, string(action), indexerID, err)
	}
	metrics.SyncTotal.WithLabelValues(app.Name, string(result), "success").Inc()
	return result, nil
}

// SyncReport summarizes one reconcile pass.
type SyncReport struct {
	AppID    int64          `json:"appId"`
	App      string         `json:"app"`
	Actions  map[Action]int `json:"actions"`
	Repaired int            `json:"repaired"`
	Errors   []string       `json:"errors,omitempty"`
}

func (r *SyncReport) record(a Action) {
	if a != ActionNone {
		r.Actions[a]++
	}
}

func (r *SyncReport) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// SyncApp reconciles one application with the local indexer list. The
// mapping table is first repaired from remote truth, then every local
// indexer is added or updated as the sync level allows.
func (m *Manager) SyncApp(ctx context.Context, appID int64) (*SyncReport, error) {
	app, err := m.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	report := &SyncReport{AppID: app.ID, App: app.Name, Actions: make(map[Action]int)}
	if app.SyncLevel == SyncDisabled {
		return report, nil
	}

	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(app.Name).Observe(time.Since(start).Seconds())
	}()

	integ, err := m.integrationFor(app)
	if err != nil {
		return nil, err
	}
	defs, err := m.indexers.List(ctx)
	if err != nil {
		return nil, err
	}
	local := make(map[int64]*types.IndexerDefinition, len(defs))
	for _, d := range defs {
		local[d.ID] = d
	}

	if err := m.heal(ctx, app, integ, local, report); err != nil {
		return nil, wrapSync(app.Name, "reconcile", 0, err)
	}

	mapped, err := m.mappedIndexers(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		action := SyncActionAdd
		if mapped[def.ID] {
			if app.SyncLevel != SyncFull {
				continue
			}
			action = SyncActionUpdate
		}
		result, err := m.run(ctx, app, integ, action, def.ID, def)
		if err != nil {
			m.logger.Error().Err(err).Str("app", app.Name).Int64("indexer", def.ID).Msg("Indexer sync failed")
			report.fail(err)
			continue
		}
		report.record(result)
	}

	m.logger.Info().Str("app", app.Name).Interface("actions", report.Actions).
		Int("repaired", report.Repaired).Int("errors", len(report.Errors)).Msg("Application sync complete")
	return report, nil
}

// heal makes the mapping table agree with the remote indexer list: stale
// and mismatched rows are deleted, remote indexers pointing at us are
// adopted, and remote copies of deleted local indexers are removed.
func (m *Manager) heal(ctx context.Context, app *Application, integ Integration, local map[int64]*types.IndexerDefinition, report *SyncReport) error {
	remote, err := integ.GetMappings(ctx)
	if err != nil {
		return err
	}
	rows, err := m.maps.ListMappings(ctx, app.ID)
	if err != nil {
		return err
	}

	claimed := make(map[int64]int64, len(rows))
	for _, row := range rows {
		localID, ok := remote[row.RemoteIndexerID]
		if ok && localID == row.IndexerID {
			claimed[row.IndexerID] = row.RemoteIndexerID
			continue
		}
		kind := "stale"
		if ok {
			kind = "mismatch"
		}
		m.logger.Warn().Str("app", app.Name).Int64("indexer", row.IndexerID).
			Int64("remote_id", row.RemoteIndexerID).Str("kind", kind).Msg("Dropping invalid indexer mapping")
		if err := m.maps.DeleteMapping(ctx, row.ID); err != nil {
			return err
		}
		metrics.MappingRepairs.WithLabelValues(app.Name, kind).Inc()
		report.Repaired++
	}

	for _, rid := range slices.Sorted(maps.Keys(remote)) {
		localID := remote[rid]
		if existing, ok := claimed[localID]; ok {
			if existing != rid {
				report.fail(wrapSync(app.Name, "reconcile", localID,
					fmt.Errorf("%w: remote indexers %d and %d both point at this indexer", ErrSyncConflict, existing, rid)))
			}
			continue
		}
		if err := m.adopt(ctx, app, localID, rid); err != nil {
			return err
		}
		claimed[localID] = rid
		report.Repaired++
	}

	for _, localID := range slices.Sorted(maps.Keys(claimed)) {
		if _, ok := local[localID]; ok {
			continue
		}
		result, err := m.run(ctx, app, integ, SyncActionRemove, localID, nil)
		if err != nil {
			report.fail(err)
			continue
		}
		report.record(result)
	}
	return nil
}

func (m *Manager) adopt(ctx context.Context, app *Application, localID, remoteID int64) error {
	unlock := m.locks.lock(app.ID, localID)
	defer unlock()

	_, err := m.maps.InsertMapping(ctx, AppIndexerMap{AppID: app.ID, IndexerID: localID, RemoteIndexerID: remoteID})
	if errors.Is(err, ErrSyncConflict) {
		// a concurrent add won; the next pass reconciles it
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Info().Str("app", app.Name).Int64("indexer", localID).Int64("remote_id", remoteID).
		Msg("Adopted remote indexer")
	metrics.MappingRepairs.WithLabelValues(app.Name, "adopted").Inc()
	return nil
}

func (m *Manager) mappedIndexers(ctx context.Context, appID int64) (map[int64]bool, error) {
	rows, err := m.maps.ListMappings(ctx, appID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(rows))
	for _, r := range rows {
		out[r.IndexerID] = true
	}
	return out, nil
}

// SyncAll reconciles every enabled application.
func (m *Manager) SyncAll(ctx context.Context) ([]*SyncReport, error) {
	apps, err := m.store.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	var (
		reports []*SyncReport
		errs    []error
	)
	for _, app := range apps {
		if app.SyncLevel == SyncDisabled {
			continue
		}
		report, err := m.SyncApp(ctx, app.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("app", app.Name).Msg("Application sync failed")
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

// IndexerAdded pushes a new indexer to every syncing application.
func (m *Manager) IndexerAdded(ctx context.Context, def *types.IndexerDefinition) {
	m.broadcast(ctx, SyncActionAdd, def.ID, def, func(l SyncLevel) bool { return l != SyncDisabled })
}

// IndexerUpdated rewrites the indexer in fullSync applications.
func (m *Manager) IndexerUpdated(ctx context.Context, def *types.IndexerDefinition) {
	m.broadcast(ctx, SyncActionUpdate, def.ID, def, func(l SyncLevel) bool { return l == SyncFull })
}

// IndexerRemoved deletes the indexer from every syncing application.
func (m *Manager) IndexerRemoved(ctx context.Context, id int64) {
	m.broadcast(ctx, SyncActionRemove, id, nil, func(l SyncLevel) bool { return l != SyncDisabled })
}

func (m *Manager) broadcast(ctx context.Context, action SyncAction, indexerID int64, def *types.IndexerDefinition, wants func(SyncLevel) bool) {
	apps, err := m.store.ListApplications(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list applications for sync")
		return
	}
	for _, app := range apps {
		if !wants(app.SyncLevel) {
			continue
		}
		integ, err := m.integrationFor(app)
		if err != nil {
			m.logger.Error().Err(err).Str("app", app.Name).Msg("Application cannot be synced")
			continue
		}
		result, err := m.run(ctx, app, integ, action, indexerID, def)
		if err != nil {
			m.logger.Error().Err(err).Str("app", app.Name).Int64("indexer", indexerID).
				Str("action", string(action)).Msg("Indexer sync failed")
			continue
		}
		m.logger.Debug().Str("app", app.Name).Int64("indexer", indexerID).
			Str("result", string(result)).Msg("Indexer synced")
	}
}
