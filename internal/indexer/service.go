package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/slipstream/indexarr/internal/indexer/ratelimit"
	"github.com/slipstream/indexarr/internal/indexer/session"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

var ErrInvalidIndexer = errors.New("invalid indexer configuration")

const (
	defaultPriority          = 25
	defaultSearchTimeout     = 60 * time.Second
	defaultSearchConcurrency = 8
)

// ChangeListener is notified after indexer definitions change. The
// application sync engine implements it.
type ChangeListener interface {
	IndexerAdded(ctx context.Context, def *types.IndexerDefinition)
	IndexerUpdated(ctx context.Context, def *types.IndexerDefinition)
	IndexerRemoved(ctx context.Context, id int64)
}

// StatusTracker records search outcomes and backs off from indexers that
// keep failing. *status.Service implements it.
type StatusTracker interface {
	IsDisabled(ctx context.Context, indexerID int64) (bool, *time.Time, error)
	RecordSuccess(ctx context.Context, indexerID int64) error
	RecordFailure(ctx context.Context, indexerID int64, opError error) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	SessionStore      session.Store
	Limiter           *ratelimit.Limiter
	SearchTimeout     time.Duration
	SearchConcurrency int
	// SessionTTL applies to logins whose site gives no expiry.
	SessionTTL time.Duration
	// Status is optional; without it failing indexers are never skipped.
	Status StatusTracker
}

// Service provides indexer CRUD and search across configured adapters.
type Service struct {
	store    Store
	registry *Registry
	executor Executor
	opts     ServiceOptions
	logger   zerolog.Logger

	mu        sync.Mutex
	adapters  map[int64]*Adapter
	listeners []ChangeListener
}

// NewService creates a new indexer service.
func NewService(store Store, registry *Registry, executor Executor, opts ServiceOptions, logger zerolog.Logger) *Service {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = defaultSearchTimeout
	}
	if opts.SearchConcurrency <= 0 {
		opts.SearchConcurrency = defaultSearchConcurrency
	}
	return &Service{
		store:    store,
		registry: registry,
		executor: executor,
		opts:     opts,
		logger:   logger.With().Str("component", "indexer").Logger(),
		adapters: make(map[int64]*Adapter),
	}
}

// AddListener registers l for change notifications.
func (s *Service) AddListener(l ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Implementations lists the registered adapter types.
func (s *Service) Implementations() []Implementation {
	return s.registry.List()
}

// Get retrieves an indexer by ID with its capabilities.
func (s *Service) Get(ctx context.Context, id int64) (*types.IndexerDefinition, error) {
	def, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fillCapabilities(def)
	return def, nil
}

// List returns all indexers with their capabilities.
func (s *Service) List(ctx context.Context) ([]*types.IndexerDefinition, error) {
	defs, err := s.store.ListIndexers(ctx)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		s.fillCapabilities(def)
	}
	return defs, nil
}

// ListEnabled returns enabled indexers.
func (s *Service) ListEnabled(ctx context.Context) ([]*types.IndexerDefinition, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]*types.IndexerDefinition, 0, len(all))
	for _, def := range all {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}
	return enabled, nil
}

func (s *Service) fillCapabilities(def *types.IndexerDefinition) {
	a, err := s.adapterFor(def)
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", def.ID).Msg("Indexer cannot be built, capabilities unknown")
		return
	}
	def.Capabilities = a.Capabilities()
}

// CreateIndexerInput is the input for creating a new indexer.
type CreateIndexerInput struct {
	Name           string          `json:"name"`
	Implementation string          `json:"implementation"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	Priority       int             `json:"priority"`
	Enabled        bool            `json:"enabled"`
	AppProfileIDs  []int64         `json:"appProfileIds,omitempty"`
}

// UpdateIndexerInput is the input for updating an indexer (all fields optional for partial updates).
type UpdateIndexerInput struct {
	Name          *string         `json:"name,omitempty"`
	Settings      json.RawMessage `json:"settings,omitempty"`
	Priority      *int            `json:"priority,omitempty"`
	Enabled       *bool           `json:"enabled,omitempty"`
	AppProfileIDs []int64         `json:"appProfileIds,omitempty"`
}

// Create validates and stores a new indexer.
func (s *Service) Create(ctx context.Context, input *CreateIndexerInput) (*types.IndexerDefinition, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidIndexer)
	}
	impl, err := s.registry.Get(input.Implementation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndexer, err)
	}
	if input.Priority == 0 {
		input.Priority = defaultPriority
	}

	candidate := &types.IndexerDefinition{
		Name:           input.Name,
		Implementation: impl.Name,
		Protocol:       impl.Protocol,
		Privacy:        impl.Privacy,
		Enabled:        input.Enabled,
		Priority:       input.Priority,
		Settings:       input.Settings,
	}
	if _, err := s.registry.Build(candidate, s.deps()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndexer, err)
	}

	def, err := s.store.CreateIndexer(ctx, candidate, input.AppProfileIDs)
	if err != nil {
		return nil, err
	}
	s.fillCapabilities(def)

	s.logger.Info().Int64("id", def.ID).Str("name", def.Name).
		Str("implementation", def.Implementation).Msg("Created indexer")

	for _, l := range s.snapshotListeners() {
		l.IndexerAdded(ctx, def)
	}
	return def, nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id int64, input *UpdateIndexerInput) (*types.IndexerDefinition, error) {
	existing, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if input.Name != nil {
		if *input.Name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidIndexer)
		}
		updated.Name = *input.Name
	}
	if input.Settings != nil {
		updated.Settings = input.Settings
	}
	if input.Priority != nil {
		updated.Priority = *input.Priority
	}
	if input.Enabled != nil {
		updated.Enabled = *input.Enabled
	}
	if _, err := s.registry.Build(&updated, s.deps()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndexer, err)
	}

	def, err := s.store.UpdateIndexer(ctx, &updated, input.AppProfileIDs)
	if err != nil {
		return nil, err
	}
	s.dropAdapter(id)
	s.fillCapabilities(def)

	s.logger.Info().Int64("id", id).Str("name", def.Name).Msg("Updated indexer")

	for _, l := range s.snapshotListeners() {
		l.IndexerUpdated(ctx, def)
	}
	return def, nil
}

// Delete removes an indexer and its stored session.
func (s *Service) Delete(ctx context.Context, id int64) error {
	existing, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteIndexer(ctx, id); err != nil {
		return err
	}
	s.dropAdapter(id)
	if s.opts.SessionStore != nil {
		if err := s.opts.SessionStore.Clear(ctx, id); err != nil {
			s.logger.Warn().Err(err).Int64("id", id).Msg("Failed to clear session of deleted indexer")
		}
	}

	s.logger.Info().Int64("id", id).Str("name", existing.Name).Msg("Deleted indexer")

	for _, l := range s.snapshotListeners() {
		l.IndexerRemoved(ctx, id)
	}
	return nil
}

// ListProfiles returns all application profiles.
func (s *Service) ListProfiles(ctx context.Context) ([]*types.AppProfile, error) {
	return s.store.ListProfiles(ctx)
}

// SaveProfile creates or updates a profile and re-announces every indexer
// using it so linked applications pick up the new flags.
func (s *Service) SaveProfile(ctx context.Context, p *types.AppProfile) (*types.AppProfile, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidIndexer)
	}
	saved, err := s.store.SaveProfile(ctx, p)
	if err != nil {
		return nil, err
	}
	if p.ID != 0 {
		s.announceProfileUsers(ctx, saved.ID)
	}
	return saved, nil
}

// DeleteProfile removes a profile.
func (s *Service) DeleteProfile(ctx context.Context, id int64) error {
	users, err := s.profileUsers(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	for _, def := range users {
		if fresh, err := s.Get(ctx, def.ID); err == nil {
			for _, l := range s.snapshotListeners() {
				l.IndexerUpdated(ctx, fresh)
			}
		}
	}
	return nil
}

func (s *Service) announceProfileUsers(ctx context.Context, profileID int64) {
	users, err := s.profileUsers(ctx, profileID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("profileId", profileID).Msg("Failed to list indexers using profile")
		return
	}
	for _, def := range users {
		for _, l := range s.snapshotListeners() {
			l.IndexerUpdated(ctx, def)
		}
	}
}

func (s *Service) profileUsers(ctx context.Context, profileID int64) ([]*types.IndexerDefinition, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var users []*types.IndexerDefinition
	for _, def := range all {
		for _, p := range def.AppProfiles {
			if p.ID == profileID {
				users = append(users, def)
				break
			}
		}
	}
	return users, nil
}

// Search runs criteria against one indexer.
func (s *Service) Search(ctx context.Context, id int64, criteria types.SearchCriteria) ([]types.ReleaseInfo, error) {
	def, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.adapterFor(def)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	logger := s.logger.With().Str("requestId", requestID).Int64("indexerId", id).Logger()
	ctx = logger.WithContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	if err := s.checkBackoff(ctx, def); err != nil {
		return nil, err
	}

	start := time.Now()
	releases, err := a.Search(ctx, criteria)
	s.recordOutcome(ctx, def, err)
	if err != nil {
		logger.Warn().Err(err).Str("query", criteria.Query).Msg("Search failed")
		return nil, err
	}
	logger.Debug().Str("query", criteria.Query).Int("releases", len(releases)).
		Dur("elapsed", time.Since(start)).Msg("Search completed")
	return releases, nil
}

// IndexerFailure records one indexer's error within a fan-out search.
type IndexerFailure struct {
	IndexerID   int64  `json:"indexerId"`
	IndexerName string `json:"indexerName"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
}

// SearchResult is the merged outcome of SearchAll.
type SearchResult struct {
	Releases     []types.ReleaseInfo `json:"releases"`
	Failures     []IndexerFailure    `json:"failures,omitempty"`
	IndexersUsed int                 `json:"indexersUsed"`
}

// SearchAll fans criteria out to every enabled indexer, or to ids when given.
// One indexer failing does not fail the others.
func (s *Service) SearchAll(ctx context.Context, criteria types.SearchCriteria, ids []int64) (*SearchResult, error) {
	defs, err := s.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		wanted := make(map[int64]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		filtered := defs[:0]
		for _, def := range defs {
			if wanted[def.ID] {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}

	requestID := uuid.New().String()
	logger := s.logger.With().Str("requestId", requestID).Logger()

	var (
		mu     sync.Mutex
		result = &SearchResult{Releases: []types.ReleaseInfo{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.SearchConcurrency)
	for _, def := range defs {
		a, err := s.adapterFor(def)
		if err != nil {
			mu.Lock()
			result.Failures = append(result.Failures, failureOf(def, err))
			mu.Unlock()
			continue
		}
		if !a.Capabilities().Supports(kindOrBasic(criteria.Kind)) {
			continue
		}
		if err := s.checkBackoff(ctx, def); err != nil {
			mu.Lock()
			result.Failures = append(result.Failures, failureOf(def, err))
			mu.Unlock()
			continue
		}
		result.IndexersUsed++

		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, s.opts.SearchTimeout)
			defer cancel()

			releases, err := a.Search(sctx, criteria)
			s.recordOutcome(gctx, def, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return err
				}
				logger.Warn().Err(err).Int64("indexerId", def.ID).Msg("Indexer search failed")
				result.Failures = append(result.Failures, failureOf(def, err))
				return nil
			}
			result.Releases = append(result.Releases, releases...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(result.Releases, func(i, j int) bool {
		return result.Releases[i].IndexerPriority < result.Releases[j].IndexerPriority
	})

	logger.Info().Str("query", criteria.Query).Int("indexers", result.IndexersUsed).
		Int("releases", len(result.Releases)).Int("failures", len(result.Failures)).
		Msg("Search completed")
	return result, nil
}

// TestResult represents the result of testing an indexer connection.
type TestResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Test tests an indexer connection by ID.
func (s *Service) Test(ctx context.Context, id int64) (*TestResult, error) {
	def, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.adapterFor(def)
	if err != nil {
		return &TestResult{Success: false, Code: GetErrorCode(err), Message: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	if err := a.TestConnection(ctx); err != nil {
		return &TestResult{Success: false, Code: GetErrorCode(err), Message: err.Error()}, nil
	}
	// A passing manual test lifts any backoff.
	s.recordOutcome(ctx, def, nil)
	return &TestResult{Success: true, Message: "Successfully connected to indexer"}, nil
}

// Adapter returns the adapter for an indexer id.
func (s *Service) Adapter(ctx context.Context, id int64) (*Adapter, error) {
	def, err := s.store.GetIndexer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.adapterFor(def)
}

func (s *Service) adapterFor(def *types.IndexerDefinition) (*Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.adapters[def.ID]; ok && a.info.UpdatedAt.Equal(def.UpdatedAt) {
		return a, nil
	}

	impl, err := s.registry.Build(def, s.deps())
	if err != nil {
		return nil, err
	}
	a := NewAdapter(def, impl, s.executor, AdapterOptions{
		SessionStore: s.opts.SessionStore,
		Limiter:      s.opts.Limiter,
		Logger:       s.logger,
		SessionOpts:  []session.ManagerOption{session.WithDefaultTTL(s.opts.SessionTTL)},
	})
	s.adapters[def.ID] = a
	return a, nil
}

func (s *Service) dropAdapter(id int64) {
	s.mu.Lock()
	delete(s.adapters, id)
	s.mu.Unlock()
}

func (s *Service) snapshotListeners() []ChangeListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChangeListener(nil), s.listeners...)
}

func (s *Service) deps() Deps {
	return Deps{Executor: s.executor, Logger: s.logger, Now: time.Now}
}

// checkBackoff fails with a disabled error while def is backing off.
func (s *Service) checkBackoff(ctx context.Context, def *types.IndexerDefinition) error {
	if s.opts.Status == nil {
		return nil
	}
	disabled, until, err := s.opts.Status.IsDisabled(ctx, def.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("id", def.ID).Msg("Failed to read indexer status")
		return nil
	}
	if disabled {
		return NewDisabledError(def.ID, def.Name, *until)
	}
	return nil
}

// recordOutcome feeds a search result into the status tracker. Failures the
// site is not responsible for do not count.
func (s *Service) recordOutcome(ctx context.Context, def *types.IndexerDefinition, err error) {
	if s.opts.Status == nil {
		return
	}
	// A search that hit its deadline must still be recorded.
	ctx = context.WithoutCancel(ctx)
	var rerr error
	switch {
	case err == nil:
		rerr = s.opts.Status.RecordSuccess(ctx, def.ID)
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCapabilityMismatch),
		errors.Is(err, ErrRateLimit), errors.Is(err, ErrConfiguration):
		return
	default:
		rerr = s.opts.Status.RecordFailure(ctx, def.ID, err)
	}
	if rerr != nil {
		s.logger.Warn().Err(rerr).Int64("id", def.ID).Msg("Failed to record indexer status")
	}
}

func failureOf(def *types.IndexerDefinition, err error) IndexerFailure {
	return IndexerFailure{
		IndexerID:   def.ID,
		IndexerName: def.Name,
		Code:        GetErrorCode(err),
		Message:     err.Error(),
	}
}

func kindOrBasic(k types.SearchKind) types.SearchKind {
	if k == "" {
		return types.SearchKindBasic
	}
	return k
}
