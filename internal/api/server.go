//nolint:revive // Package name 'api' is intentionally generic for the HTTP API layer
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/api/ratelimit"
	"github.com/slipstream/indexarr/internal/applications"
	"github.com/slipstream/indexarr/internal/config"
	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/status"
	"github.com/slipstream/indexarr/internal/logger"
	"github.com/slipstream/indexarr/internal/metrics"
	"github.com/slipstream/indexarr/internal/scheduler"
	"github.com/slipstream/indexarr/internal/websocket"

	apimw "github.com/slipstream/indexarr/internal/api/middleware"
)

// Version is reported by the status endpoint and caps documents.
var Version = "dev"

// Deps are the services the HTTP API exposes.
type Deps struct {
	Config       *config.Config
	Indexers     *indexer.Service
	Status       *status.Service
	Applications *applications.Manager
	Scheduler    *scheduler.Scheduler
	Events       *websocket.Hub
	Logs         *logger.Recent
	LogFile      string
	Logger       zerolog.Logger
}

// Server is the HTTP API server.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	deps      Deps
	logger    zerolog.Logger
	limiter   *ratelimit.KeyLimiter
	startedAt time.Time
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		cfg:       deps.Config,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "api").Logger(),
		limiter:   ratelimit.NewKeyLimiter(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, apimw.HeaderAPIKey},
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			// The proxy URL carries the api key.
			uri := c.Path()
			if uri == "" {
				uri = v.URI
			}
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", uri).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", uri).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(apimw.SecurityHeaders())
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.echo.GET(path, echo.WrapHandler(metrics.Handler()))
	}

	keyed := []echo.MiddlewareFunc{s.limiter.Middleware(), apimw.APIKey(s.cfg.Server.APIKey, s.limiter)}

	// Torznab endpoint the remote applications call back into.
	s.echo.GET("/:id/api", s.torznabAPI, s.limiter.Middleware())

	api := s.echo.Group("/api/v1", keyed...)
	api.GET("/status", s.getStatus)

	indexerHandlers := indexer.NewHandlers(s.deps.Indexers)
	if s.deps.Status != nil {
		indexerHandlers.SetStatusService(s.deps.Status)
	}
	indexerHandlers.RegisterRoutes(api.Group("/indexers"))
	indexerHandlers.RegisterProfileRoutes(api.Group("/appprofiles"))

	if s.deps.Applications != nil {
		appHandlers := applications.NewHandlers(s.deps.Applications)
		appHandlers.RegisterRoutes(api.Group("/applications"))
	}

	if s.deps.Scheduler != nil {
		tasks := newTaskHandlers(s.deps.Scheduler)
		tasks.RegisterRoutes(api.Group("/system/tasks"))
	}

	logs := newLogHandlers(s.deps.Logs, s.deps.LogFile)
	logs.RegisterRoutes(api.Group("/system/logs"))

	if s.deps.Events != nil {
		api.GET("/ws", s.deps.Events.HandleWebSocket)
	}
}

// Limiter exposes the API key limiter so its cleanup can be scheduled.
func (s *Server) Limiter() *ratelimit.KeyLimiter {
	return s.limiter
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves on the configured address until Shutdown is called.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()
	s.logger.Info().Str("address", addr).Str("publicUrl", s.cfg.Server.PublicURL).Msg("Starting HTTP server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse describes the running instance.
type StatusResponse struct {
	AppName   string        `json:"appName"`
	Version   string        `json:"version"`
	StartTime time.Time     `json:"startTime"`
	Uptime    string        `json:"uptime"`
	PublicURL string        `json:"publicUrl"`
	Indexers  int           `json:"indexers"`
	Health    *status.Stats `json:"health,omitempty"`
}

func (s *Server) getStatus(c echo.Context) error {
	defs, err := s.deps.Indexers.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := StatusResponse{
		AppName:   "Indexarr",
		Version:   Version,
		StartTime: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		PublicURL: s.cfg.Server.PublicURL,
		Indexers:  len(defs),
	}
	if s.deps.Status != nil {
		stats, err := s.deps.Status.GetStats(c.Request().Context(), len(defs))
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp.Health = stats
	}
	return c.JSON(http.StatusOK, resp)
}
