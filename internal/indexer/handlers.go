package indexer

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexarr/internal/indexer/status"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

// Handlers provides HTTP handlers for indexer operations.
type Handlers struct {
	service       *Service
	statusService *status.Service
}

// NewHandlers creates new indexer handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// SetStatusService sets the status service for health tracking.
func (h *Handlers) SetStatusService(statusService *status.Service) {
	h.statusService = statusService
}

// RegisterRoutes registers the indexer routes.
func (h *Handlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/implementations", h.ListImplementations)
	g.POST("/search", h.SearchAll)
	g.GET("/status", h.GetAllStatuses)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.POST("/:id/search", h.Search)
	g.GET("/:id/status", h.GetStatus)
	g.DELETE("/:id/status", h.ClearStatus)
}

// RegisterProfileRoutes registers the application profile routes.
func (h *Handlers) RegisterProfileRoutes(g *echo.Group) {
	g.GET("", h.ListProfiles)
	g.POST("", h.CreateProfile)
	g.PUT("/:id", h.UpdateProfile)
	g.DELETE("/:id", h.DeleteProfile)
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func errorStatus(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrIndexerNotFound), errors.Is(err, ErrProfileNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidIndexer), errors.Is(err, ErrImplementationNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCapabilityMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRateLimit), errors.Is(err, ErrDisabled):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrAuth), errors.Is(err, ErrTransport), errors.Is(err, ErrParse):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// List returns all indexers.
// GET /api/v1/indexers
func (h *Handlers) List(c echo.Context) error {
	defs, err := h.service.List(c.Request().Context())
	if err != nil {
		return errorStatus(err)
	}
	if defs == nil {
		defs = []*types.IndexerDefinition{}
	}
	return c.JSON(http.StatusOK, defs)
}

// ListImplementations returns the adapter types an indexer can be created from.
// GET /api/v1/indexers/implementations
func (h *Handlers) ListImplementations(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Implementations())
}

// Get returns a single indexer.
// GET /api/v1/indexers/:id
func (h *Handlers) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	def, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, def)
}

// Create creates a new indexer.
// POST /api/v1/indexers
func (h *Handlers) Create(c echo.Context) error {
	var input CreateIndexerInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def, err := h.service.Create(c.Request().Context(), &input)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, def)
}

// Update applies a partial update to an indexer.
// PUT /api/v1/indexers/:id
func (h *Handlers) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var input UpdateIndexerInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	def, err := h.service.Update(c.Request().Context(), id, &input)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, def)
}

// Delete deletes an indexer.
// DELETE /api/v1/indexers/:id
func (h *Handlers) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Test tests an indexer connection by ID.
// POST /api/v1/indexers/:id/test
func (h *Handlers) Test(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	result, err := h.service.Test(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, result)
}

// Search runs a query against one indexer.
// POST /api/v1/indexers/:id/search
func (h *Handlers) Search(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var criteria types.SearchCriteria
	if err := c.Bind(&criteria); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	releases, err := h.service.Search(c.Request().Context(), id, criteria)
	if err != nil {
		return errorStatus(err)
	}
	if releases == nil {
		releases = []types.ReleaseInfo{}
	}
	return c.JSON(http.StatusOK, releases)
}

// SearchAllInput is the body of a fan-out search.
type SearchAllInput struct {
	types.SearchCriteria
	IndexerIDs []int64 `json:"indexerIds,omitempty"`
}

// SearchAll runs a query against every enabled indexer, or the listed ones.
// POST /api/v1/indexers/search
func (h *Handlers) SearchAll(c echo.Context) error {
	var input SearchAllInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.SearchAll(c.Request().Context(), input.SearchCriteria, input.IndexerIDs)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListProfiles returns all application profiles.
// GET /api/v1/appprofiles
func (h *Handlers) ListProfiles(c echo.Context) error {
	profiles, err := h.service.ListProfiles(c.Request().Context())
	if err != nil {
		return errorStatus(err)
	}
	if profiles == nil {
		profiles = []*types.AppProfile{}
	}
	return c.JSON(http.StatusOK, profiles)
}

// CreateProfile stores a new application profile.
// POST /api/v1/appprofiles
func (h *Handlers) CreateProfile(c echo.Context) error {
	var p types.AppProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = 0
	p.Name = strings.TrimSpace(p.Name)
	saved, err := h.service.SaveProfile(c.Request().Context(), &p)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusCreated, saved)
}

// UpdateProfile replaces an application profile.
// PUT /api/v1/appprofiles/:id
func (h *Handlers) UpdateProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p types.AppProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	p.Name = strings.TrimSpace(p.Name)
	saved, err := h.service.SaveProfile(c.Request().Context(), &p)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, saved)
}

// DeleteProfile removes an application profile.
// DELETE /api/v1/appprofiles/:id
func (h *Handlers) DeleteProfile(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteProfile(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetAllStatuses returns the failure state of every indexer that has one.
// GET /api/v1/indexers/status
func (h *Handlers) GetAllStatuses(c echo.Context) error {
	if h.statusService == nil {
		return c.JSON(http.StatusOK, []*status.IndexerStatus{})
	}
	statuses, err := h.statusService.ListStatuses(c.Request().Context())
	if err != nil {
		return errorStatus(err)
	}
	if statuses == nil {
		statuses = []*status.IndexerStatus{}
	}
	return c.JSON(http.StatusOK, statuses)
}

// GetStatus returns the health of an indexer.
// GET /api/v1/indexers/:id/status
func (h *Handlers) GetStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if _, err := h.service.Get(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	if h.statusService == nil {
		return c.JSON(http.StatusOK, status.IndexerHealth{IndexerID: id, Status: status.HealthStatusHealthy})
	}
	health, err := h.statusService.GetHealth(c.Request().Context(), id)
	if err != nil {
		return errorStatus(err)
	}
	return c.JSON(http.StatusOK, health)
}

// ClearStatus lifts the backoff of an indexer.
// DELETE /api/v1/indexers/:id/status
func (h *Handlers) ClearStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if _, err := h.service.Get(c.Request().Context(), id); err != nil {
		return errorStatus(err)
	}
	if h.statusService != nil {
		if err := h.statusService.ClearStatus(c.Request().Context(), id); err != nil {
			return errorStatus(err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}
