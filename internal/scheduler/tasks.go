package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/applications"
)

// Task ids.
const (
	TaskAppSync      = "app-sync"
	TaskSessionPurge = "session-purge"
	TaskClientPrune  = "client-prune"
)

// AppSyncer reconciles every paired application.
type AppSyncer interface {
	SyncAll(ctx context.Context) ([]*applications.SyncReport, error)
}

// SessionPurger drops expired indexer sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// ClientPruner forgets idle API clients.
type ClientPruner interface {
	Cleanup(idle time.Duration) int
}

// RegisterAppSyncTask schedules the periodic application reconcile.
func RegisterAppSyncTask(s *Scheduler, syncer AppSyncer, interval time.Duration) error {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return s.RegisterTask(TaskConfig{
		ID:          TaskAppSync,
		Name:        "Application Sync",
		Description: "Reconciles the indexer list of every paired application",
		Interval:    interval,
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			_, err := syncer.SyncAll(ctx)
			return err
		},
	})
}

// RegisterSessionPurgeTask schedules the hourly removal of expired sessions.
func RegisterSessionPurgeTask(s *Scheduler, purger SessionPurger, logger zerolog.Logger) error {
	logger = logger.With().Str("task", TaskSessionPurge).Logger()
	return s.RegisterTask(TaskConfig{
		ID:          TaskSessionPurge,
		Name:        "Purge Expired Sessions",
		Description: "Deletes indexer login sessions past their expiry",
		Cron:        "0 * * * *",
		Func: func(ctx context.Context) error {
			n, err := purger.PurgeExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info().Int64("purged", n).Msg("Purged expired sessions")
			}
			return nil
		},
	})
}

// RegisterClientPruneTask drops rate limiter state for clients idle longer
// than an hour.
func RegisterClientPruneTask(s *Scheduler, pruner ClientPruner) error {
	return s.RegisterTask(TaskConfig{
		ID:          TaskClientPrune,
		Name:        "Prune API Clients",
		Description: "Forgets rate limit state of idle API clients",
		Interval:    15 * time.Minute,
		Func: func(context.Context) error {
			pruner.Cleanup(time.Hour)
			return nil
		},
	})
}
