package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/applications"
	"github.com/slipstream/indexarr/internal/config"
	"github.com/slipstream/indexarr/internal/crypto"
	"github.com/slipstream/indexarr/internal/database"
	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/definitions"
	"github.com/slipstream/indexarr/internal/indexer/ratelimit"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/session"
	"github.com/slipstream/indexarr/internal/indexer/status"
)

// sessionStore is what both session backends provide.
type sessionStore interface {
	session.Store
	session.Purger
}

// app holds the services shared by every command.
type app struct {
	db       *database.DB
	sessions sessionStore
	closers  []io.Closer

	indexers     *indexer.Service
	status       *status.Service
	applications *applications.Manager
}

// openApp opens the database, applies migrations and wires the indexer and
// application services together.
func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	db, err := database.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, closers: []io.Closer{db}}

	if err := db.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	switch cfg.Session.Store {
	case "bolt":
		bolt, err := session.OpenBoltStore(cfg.Session.BoltPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sessions = bolt
		a.closers = append(a.closers, bolt)
	default:
		a.sessions = session.NewSQLStore(db.Conn())
	}

	execCfg := request.DefaultExecutorConfig(logger)
	if cfg.Search.MaxRetries >= 0 {
		execCfg.MaxRetries = uint64(cfg.Search.MaxRetries)
	}
	execCfg.UserAgent = cfg.Search.UserAgent
	executor := request.NewExecutor(execCfg)

	limits := ratelimit.DefaultConfig()
	if cfg.Search.RequestRate > 0 {
		limits.RequestRate = cfg.Search.RequestRate
	}
	if cfg.Search.RequestBurst > 0 {
		limits.RequestBurst = cfg.Search.RequestBurst
	}

	a.status = status.NewService(status.NewSQLStore(db.Conn()), logger)
	a.indexers = indexer.NewService(
		indexer.NewSQLStore(db.Conn()),
		definitions.NewRegistry(),
		executor,
		indexer.ServiceOptions{
			SessionStore:      a.sessions,
			Limiter:           ratelimit.NewLimiter(limits, logger),
			SearchTimeout:     cfg.Search.Timeout,
			SearchConcurrency: cfg.Search.MaxConcurrency,
			SessionTTL:        cfg.Session.DefaultTTL,
			Status:            a.status,
		},
		logger,
	)

	appStore := applications.NewSQLStore(db.Conn())
	if cfg.Database.SecretKey != "" {
		salt, err := crypto.LoadOrCreateSalt(ctx, db.Conn())
		if err != nil {
			a.Close()
			return nil, err
		}
		sealer, err := crypto.NewSecretStore(cfg.Database.SecretKey, salt)
		if err != nil {
			a.Close()
			return nil, err
		}
		appStore.SetSealer(sealer)
	}
	a.applications = applications.NewManager(appStore, appStore, a.indexers, applications.ManagerConfig{
		PublicURL: cfg.Server.PublicURL,
		APIKey:    cfg.Server.APIKey,
		SchemaTTL: cfg.Sync.SchemaTTL,
		Timeout:   cfg.Sync.RequestTimeout,
	}, logger)
	a.indexers.AddListener(a.applications)

	return a, nil
}

// seed applies the configured seed file, if any.
func (a *app) seed(ctx context.Context, path string, logger zerolog.Logger) error {
	if path == "" {
		return nil
	}
	f, err := definitions.LoadSeedFile(path)
	if err != nil {
		return err
	}
	res, err := definitions.Apply(ctx, a.indexers, f, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Int("profiles", res.ProfilesCreated).
		Int("indexers", res.IndexersCreated).
		Int("skipped", res.IndexersSkipped).
		Msg("Applied seed file")
	return nil
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func commandContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
