package indexer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/indexarr/internal/indexer/status"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/testutil"
)

func newHandlerServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	e := echo.New()
	h := NewHandlers(svc)
	h.RegisterRoutes(e.Group("/indexers"))
	h.RegisterProfileRoutes(e.Group("/appprofiles"))
	return e, svc
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandlersCreateAndGet(t *testing.T) {
	e, _ := newHandlerServer(t)

	rec := doJSON(e, http.MethodPost, "/indexers", `{"name":"alpha","implementation":"stub","enabled":true,"settings":{"rows":1}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created types.IndexerDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alpha", created.Name)

	rec = doJSON(e, http.MethodGet, "/indexers/"+itoa(created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"capabilities"`)

	rec = doJSON(e, http.MethodGet, "/indexers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []types.IndexerDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHandlersErrorStatuses(t *testing.T) {
	e, _ := newHandlerServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad id", http.MethodGet, "/indexers/abc", "", http.StatusBadRequest},
		{"missing", http.MethodGet, "/indexers/42", "", http.StatusNotFound},
		{"unknown implementation", http.MethodPost, "/indexers", `{"name":"x","implementation":"nope"}`, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/indexers", `{"implementation":"stub"}`, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/indexers/42", "", http.StatusNotFound},
		{"update missing profile", http.MethodPut, "/appprofiles/9", `{"name":"p"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlersSearch(t *testing.T) {
	e, svc := newHandlerServer(t)
	def := createStub(t, svc, "alpha", 1, true, `{"rows":2}`)
	createStub(t, svc, "beta", 2, true, `{"rows":1}`)

	rec := doJSON(e, http.MethodPost, "/indexers/"+itoa(def.ID)+"/search", `{"kind":"search","query":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var releases []types.ReleaseInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &releases))
	assert.Len(t, releases, 2)

	rec = doJSON(e, http.MethodPost, "/indexers/search", `{"kind":"search","query":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.IndexersUsed)
	assert.Len(t, result.Releases, 3)
}

func TestHandlersProfiles(t *testing.T) {
	e, _ := newHandlerServer(t)

	rec := doJSON(e, http.MethodPost, "/appprofiles", `{"name":" Standard ","enableRss":true,"applicationIds":[1]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p types.AppProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Standard", p.Name)
	assert.Equal(t, []int64{1}, p.ApplicationIDs)

	rec = doJSON(e, http.MethodPut, "/appprofiles/"+itoa(p.ID), `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(e, http.MethodGet, "/appprofiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Renamed")

	rec = doJSON(e, http.MethodDelete, "/appprofiles/"+itoa(p.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestHandlersStatus(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	tracker := status.NewService(status.NewSQLStore(tdb.Conn), tdb.Logger)
	svc := NewService(NewSQLStore(tdb.Conn), stubRegistry(), stubExecutor{}, ServiceOptions{Status: tracker}, tdb.Logger)
	e := echo.New()
	h := NewHandlers(svc)
	h.SetStatusService(tracker)
	h.RegisterRoutes(e.Group("/indexers"))

	broken := createStub(t, svc, "Broken", 1, true, `{"fail":true}`)
	path := "/indexers/" + itoa(broken.ID)

	rec := doJSON(e, http.MethodPost, path+"/search", `{"query":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	rec = doJSON(e, http.MethodPost, path+"/search", `{"query":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doJSON(e, http.MethodGet, path+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"disabled"`)

	rec = doJSON(e, http.MethodGet, "/indexers/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isDisabled":true`)

	rec = doJSON(e, http.MethodDelete, path+"/status", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(e, http.MethodGet, path+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = doJSON(e, http.MethodGet, "/indexers/77/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
