package applications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusClient(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(apiKeyHeader))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{URL: srv.URL + "/", APIKey: "key", APIVersion: "v1"})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresSettings(t *testing.T) {
	_, err := NewClient(ClientConfig{APIKey: "key"})
	require.ErrorIs(t, err, ErrInvalidApplication)
	_, err = NewClient(ClientConfig{URL: "http://radarr"})
	require.ErrorIs(t, err, ErrInvalidApplication)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "", ErrUnauthorized},
		{"not found", http.StatusNotFound, "", ErrRemoteNotFound},
		{"validation", http.StatusBadRequest, `[{"propertyName":"BaseUrl","errorMessage":"unable to connect"}]`, ErrRemoteRejected},
		{"server error", http.StatusInternalServerError, "", ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStatusClient(t, tt.status, tt.body)
			_, err := c.GetIndexer(context.Background(), 3)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ValidationMessage(t *testing.T) {
	c := newStatusClient(t, http.StatusBadRequest, `[{"propertyName":"BaseUrl","errorMessage":"unable to connect"}]`)
	err := c.TestIndexer(context.Background(), &RemoteIndexer{Name: "Test"})
	require.ErrorIs(t, err, ErrRemoteRejected)
	assert.Contains(t, err.Error(), "BaseUrl: unable to connect")
	assert.True(t, IsRemoteRejected(err))
	assert.False(t, IsConnectionError(err))
}

func TestClient_DeleteMissingIndexerSucceeds(t *testing.T) {
	c := newStatusClient(t, http.StatusNotFound, "")
	require.NoError(t, c.DeleteIndexer(context.Background(), 12))
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{URL: url, APIKey: "key"})
	require.NoError(t, err)
	_, err = c.SystemStatus(context.Background())
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.True(t, IsConnectionError(err))
}

func TestClient_Paths(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[]`))
		default:
			_, _ = w.Write([]byte(`{"id":9}`))
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{URL: srv.URL, APIKey: "key", APIVersion: "v3"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetIndexers(ctx)
	require.NoError(t, err)
	_, err = c.GetSchema(ctx)
	require.NoError(t, err)
	created, err := c.AddIndexer(ctx, &RemoteIndexer{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), created.ID)
	_, err = c.UpdateIndexer(ctx, &RemoteIndexer{ID: 9})
	require.NoError(t, err)
	require.NoError(t, c.DeleteIndexer(ctx, 9))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"GET /api/v3/indexer",
		"GET /api/v3/indexer/schema",
		"POST /api/v3/indexer",
		"PUT /api/v3/indexer/9",
		"DELETE /api/v3/indexer/9",
	}, paths)
}
