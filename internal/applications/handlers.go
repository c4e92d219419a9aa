package applications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handlers provides HTTP handlers for application operations.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new application handlers.
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers the application routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/implementations", h.ListImplementations)
	g.POST("/test", h.TestConfig)
	g.POST("/sync", h.SyncAll)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.POST("/:id/sync", h.Sync)
	g.POST("/:id/indexers/:indexerId/:action", h.SyncIndexer)
}

func parseID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// errorStatus maps sync errors to HTTP status codes.
func errorStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidApplication):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnsupportedVersion), errors.Is(err, ErrRemoteRejected), errors.Is(err, ErrSchemaMissing):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case IsConnectionError(err):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// List returns all applications.
// GET /api/v1/applications
func (h *Handlers) List(c echo.Context) error {
	apps, err := h.manager.List(c.Request().Context())
	if err != nil {
		return errorStatus(err)
	}
	if apps == nil {
		apps = []*Application{}
	}
	return c.JSON(http.StatusOK, apps)
}

// Get returns a single application.
// GET /api/v1/applications/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	app, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, app)
}

// Create stores a new application.
// POST /api/v1/applications
func (h *Handlers) Create(c echo.Context) error {
	var app Application
	if err := c.Bind(&app); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.manager.Create(c.Request().Context(), &app)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// Update replaces an application.
// PUT /api/v1/applications/:id
func (h *Handlers) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var app Application
	if err := c.Bind(&app); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	app.ID = id
	updated, err := h.manager.Update(c.Request().Context(), &app)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete removes an application.
// DELETE /api/v1/applications/:id
func (h *Handlers) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.manager.Delete(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListImplementations returns the supported application types.
// GET /api/v1/applications/implementations
func (h *Handlers) ListImplementations(c echo.Context) error {
	type implementation struct {
		Implementation    string `json:"implementation"`
		Name              string `json:"name"`
		MinVersion        string `json:"minVersion"`
		DefaultCategories []int  `json:"defaultCategories"`
	}
	flavors := Flavors()
	out := make([]implementation, 0, len(flavors))
	for _, f := range flavors {
		out = append(out, implementation{
			Implementation:    f.Implementation,
			Name:              f.DisplayName,
			MinVersion:        f.MinVersion,
			DefaultCategories: f.DefaultCategories,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type testResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func testResult(c echo.Context, err error) error {
	if err != nil {
		return c.JSON(http.StatusOK, testResponse{Success: false, Message: err.Error()})
	}
	return c.JSON(http.StatusOK, testResponse{Success: true})
}

// Test checks a saved application.
// POST /api/v1/applications/:id/test
func (h *Handlers) Test(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	app, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return testResult(c, h.manager.Test(c.Request().Context(), app))
}

// TestConfig checks an unsaved application configuration.
// POST /api/v1/applications/test
func (h *Handlers) TestConfig(c echo.Context) error {
	var app Application
	if err := c.Bind(&app); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return testResult(c, h.manager.Test(c.Request().Context(), &app))
}

// Sync reconciles one application.
// POST /api/v1/applications/:id/sync
func (h *Handlers) Sync(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	report, err := h.manager.SyncApp(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, report)
}

// SyncAll reconciles every application.
// POST /api/v1/applications/sync
func (h *Handlers) SyncAll(c echo.Context) error {
	reports, err := h.manager.SyncAll(c.Request().Context())
	if err != nil && len(reports) == 0 {
		return errorStatus(err)
	}
	if reports == nil {
		reports = []*SyncReport{}
	}
	return c.JSON(http.StatusOK, reports)
}

// SyncIndexer runs one operation for an application and indexer.
// POST /api/v1/applications/:id/indexers/:indexerId/:action
func (h *Handlers) SyncIndexer(c echo.Context) error {
	appID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	indexerID, err := parseID(c, "indexerId")
	if err != nil {
		return err
	}
	action := SyncAction(c.Param("action"))
	switch action {
	case SyncActionAdd, SyncActionUpdate, SyncActionRemove:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be add, update or remove")
	}

	result, err := h.manager.SyncIndexer(c.Request().Context(), appID, action, indexerID)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, map[string]Action{"result": result})
}
