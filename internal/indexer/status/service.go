package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service tracks indexer health and status.
type Service struct {
	store  Store
	config BackoffConfig
	logger zerolog.Logger
	now    func() time.Time

	// Serialises read-modify-write of one status row.
	mu sync.Mutex
}

// NewService creates a status service with the default backoff.
func NewService(store Store, logger zerolog.Logger) *Service {
	return NewServiceWithConfig(store, DefaultBackoffConfig(), logger)
}

// NewServiceWithConfig creates a status service with a custom backoff.
func NewServiceWithConfig(store Store, config BackoffConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		config: config,
		logger: logger.With().Str("component", "indexer-status").Logger(),
		now:    time.Now,
	}
}

// GetStatus retrieves the current status for an indexer. Indexers that never
// failed get a zero status.
func (s *Service) GetStatus(ctx context.Context, indexerID int64) (*IndexerStatus, error) {
	st, err := s.store.Get(ctx, indexerID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &IndexerStatus{IndexerID: indexerID}, nil
	}
	st.IsDisabled = st.DisabledTill != nil && s.now().Before(*st.DisabledTill)
	return st, nil
}

// RecordSuccess clears any failure state.
func (s *Service) RecordSuccess(ctx context.Context, indexerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clear(ctx, indexerID, s.now())
}

// RecordFailure escalates the backoff of an indexer.
func (s *Service) RecordFailure(ctx context.Context, indexerID int64, opError error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.GetStatus(ctx, indexerID)
	if err != nil {
		return err
	}
	now := s.now()

	st.EscalationLevel = min(st.EscalationLevel+1, s.config.MaxEscalation)
	backoff := s.config.Backoff(st.EscalationLevel)
	disabledTill := now.Add(backoff)
	st.DisabledTill = &disabledTill
	st.MostRecentFailure = &now
	if st.InitialFailure == nil {
		st.InitialFailure = &now
	}
	if opError != nil {
		st.LastError = opError.Error()
	}

	if err := s.store.Upsert(ctx, st); err != nil {
		return err
	}

	s.logger.Warn().
		Int64("indexerId", indexerID).
		Int("escalationLevel", st.EscalationLevel).
		Dur("backoff", backoff).
		Time("disabledTill", disabledTill).
		Err(opError).
		Msg("Recorded indexer failure, applying backoff")
	return nil
}

// IsDisabled reports whether an indexer is inside its backoff window.
func (s *Service) IsDisabled(ctx context.Context, indexerID int64) (bool, *time.Time, error) {
	st, err := s.GetStatus(ctx, indexerID)
	if err != nil {
		return false, nil, err
	}
	if !st.IsDisabled {
		return false, nil, nil
	}
	return true, st.DisabledTill, nil
}

// GetHealth returns the health summary for an indexer.
func (s *Service) GetHealth(ctx context.Context, indexerID int64) (*IndexerHealth, error) {
	st, err := s.GetStatus(ctx, indexerID)
	if err != nil {
		return nil, err
	}
	return s.health(st), nil
}

func (s *Service) health(st *IndexerStatus) *IndexerHealth {
	h := &IndexerHealth{
		IndexerID:   st.IndexerID,
		LastSuccess: st.LastSuccess,
		LastFailure: st.MostRecentFailure,
	}
	switch {
	case st.IsDisabled:
		remaining := st.DisabledTill.Sub(s.now())
		h.Status = HealthStatusDisabled
		h.DisabledFor = &Duration{remaining}
		h.Message = fmt.Sprintf("Disabled for %s due to repeated failures", remaining.Round(time.Minute))
	case st.EscalationLevel > 0:
		h.Status = HealthStatusWarning
		h.Message = fmt.Sprintf("Experienced %d recent failure(s)", st.EscalationLevel)
	default:
		h.Status = HealthStatusHealthy
		h.Message = "Operating normally"
	}
	return h
}

// ClearStatus forgets the failures of an indexer.
func (s *Service) ClearStatus(ctx context.Context, indexerID int64) error {
	if err := s.RecordSuccess(ctx, indexerID); err != nil {
		return err
	}
	s.logger.Info().Int64("indexerId", indexerID).Msg("Cleared indexer status")
	return nil
}

// ListStatuses returns every indexer that has a status row.
func (s *Service) ListStatuses(ctx context.Context) ([]*IndexerStatus, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, st := range all {
		st.IsDisabled = st.DisabledTill != nil && now.Before(*st.DisabledTill)
	}
	return all, nil
}

// GetStats counts the indexers in each health state.
func (s *Service) GetStats(ctx context.Context, totalIndexers int) (*Stats, error) {
	all, err := s.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalIndexers: totalIndexers}
	for _, st := range all {
		switch s.health(st).Status {
		case HealthStatusDisabled:
			stats.DisabledIndexers++
		case HealthStatusWarning:
			stats.WarningIndexers++
		}
	}
	stats.HealthyIndexers = max(totalIndexers-stats.DisabledIndexers-stats.WarningIndexers, 0)
	return stats, nil
}
