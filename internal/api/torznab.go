package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apimw "github.com/slipstream/indexarr/internal/api/middleware"
	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/metrics"
	"github.com/slipstream/indexarr/internal/torznab"
)

const mimeXML = "application/rss+xml; charset=utf-8"

// torznabAPI answers GET /:id/api for the remote applications. Failures are
// reported as Newznab error documents.
func (s *Server) torznabAPI(c echo.Context) error {
	fn := c.QueryParam("t")

	if !apimw.KeyMatches(apimw.RequestKey(c), s.cfg.Server.APIKey) {
		metrics.APIKeyFailures.Inc()
		s.limiter.RecordFailure(c.RealIP())
		return s.torznabError(c, fn, http.StatusUnauthorized, torznab.CodeIncorrectCredentials, "invalid api key")
	}
	s.limiter.RecordSuccess(c.RealIP())

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return s.torznabError(c, fn, http.StatusBadRequest, torznab.CodeIncorrectParameter, "invalid indexer id")
	}

	ctx := c.Request().Context()
	def, err := s.deps.Indexers.Get(ctx, id)
	if err != nil {
		if errors.Is(err, indexer.ErrIndexerNotFound) {
			return s.torznabError(c, fn, http.StatusNotFound, torznab.CodeNoSuchItem, "indexer not found")
		}
		return s.torznabError(c, fn, http.StatusInternalServerError, torznab.CodeUnknown, err.Error())
	}

	q, err := torznab.ParseQuery(c.QueryParams())
	if err != nil {
		var terr *torznab.Error
		if errors.As(err, &terr) {
			return s.torznabError(c, fn, http.StatusBadRequest, terr.Code, terr.Description)
		}
		return s.torznabError(c, fn, http.StatusBadRequest, torznab.CodeIncorrectParameter, err.Error())
	}

	if q.Function == torznab.FunctionCaps {
		return s.torznabCaps(c, def)
	}
	if !def.Enabled {
		return s.torznabError(c, fn, http.StatusOK, torznab.CodeFunctionUnavailable, "indexer is disabled")
	}
	if def.Capabilities == nil || !def.Capabilities.Supports(q.Criteria.Kind) {
		return s.torznabError(c, fn, http.StatusOK, torznab.CodeFunctionUnavailable, "function not available: "+q.Function)
	}

	releases, err := s.deps.Indexers.Search(ctx, id, q.Criteria)
	if err != nil {
		code, status := searchErrorCode(err)
		return s.torznabError(c, fn, status, code, err.Error())
	}
	releases = page(releases, q.Criteria.Limit)

	var buf bytes.Buffer
	ch := torznab.Channel{
		Title:       def.Name,
		Description: def.Name + " via Indexarr",
		Link:        s.cfg.Server.PublicURL,
	}
	if err := torznab.EncodeFeed(&buf, ch, releases); err != nil {
		return s.torznabError(c, fn, http.StatusInternalServerError, torznab.CodeUnknown, err.Error())
	}
	metrics.ProxyRequests.WithLabelValues(q.Function, "success").Inc()
	return c.Blob(http.StatusOK, mimeXML, buf.Bytes())
}

func (s *Server) torznabCaps(c echo.Context, def *types.IndexerDefinition) error {
	caps := def.Capabilities
	if caps == nil {
		caps = &types.Capabilities{}
	}
	var buf bytes.Buffer
	if err := torznab.EncodeCaps(&buf, "Indexarr "+Version, caps); err != nil {
		return s.torznabError(c, torznab.FunctionCaps, http.StatusInternalServerError, torznab.CodeUnknown, err.Error())
	}
	metrics.ProxyRequests.WithLabelValues(torznab.FunctionCaps, "success").Inc()
	return c.Blob(http.StatusOK, mimeXML, buf.Bytes())
}

func (s *Server) torznabError(c echo.Context, fn string, status, code int, description string) error {
	if fn == "" {
		fn = "none"
	}
	metrics.ProxyRequests.WithLabelValues(fn, "error").Inc()
	var buf bytes.Buffer
	if err := torznab.EncodeError(&buf, code, description); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(status, mimeXML, buf.Bytes())
}

// searchErrorCode maps an indexer failure to a Newznab code and HTTP status.
// Upstream login failures are not the caller's credentials, so they are
// reported as unknown errors rather than code 100.
func searchErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, indexer.ErrCapabilityMismatch), errors.Is(err, indexer.ErrDisabled):
		return torznab.CodeFunctionUnavailable, http.StatusOK
	case errors.Is(err, indexer.ErrRateLimit):
		return torznab.CodeRequestLimit, http.StatusTooManyRequests
	case errors.Is(err, indexer.ErrIndexerNotFound):
		return torznab.CodeNoSuchItem, http.StatusNotFound
	default:
		return torznab.CodeUnknown, http.StatusOK
	}
}

func page(releases []types.ReleaseInfo, limit int) []types.ReleaseInfo {
	if limit > 0 && len(releases) > limit {
		return releases[:limit]
	}
	return releases
}
