package applications

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slipstream/indexarr/internal/metrics"
)

// DefaultSchemaTTL is how long fetched indexer templates are trusted.
const DefaultSchemaTTL = 7 * 24 * time.Hour

const defaultSchemaFetchTimeout = 30 * time.Second

type schemaEntry struct {
	templates []RemoteIndexer
	fetchedAt time.Time
}

// SchemaCache holds the indexer templates of each application, keyed by the
// application's base url. Readers always receive deep copies.
type SchemaCache struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	group        singleflight.Group

	mu      sync.RWMutex
	entries map[string]schemaEntry
}

// NewSchemaCache creates a cache whose entries expire after ttl. A zero ttl
// selects DefaultSchemaTTL.
func NewSchemaCache(ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = DefaultSchemaTTL
	}
	return &SchemaCache{
		ttl:          ttl,
		fetchTimeout: defaultSchemaFetchTimeout,
		now:          time.Now,
		entries:      make(map[string]schemaEntry),
	}
}

func schemaKey(baseURL string) string {
	return strings.ToLower(strings.TrimSuffix(baseURL, "/"))
}

// Get returns the templates for baseURL, calling fetch when the entry is
// absent or expired. Concurrent callers share one fetch, which is detached
// from any single caller's cancellation; each caller still stops waiting
// when its own ctx ends.
func (c *SchemaCache) Get(ctx context.Context, baseURL string, fetch func(context.Context) ([]RemoteIndexer, error)) ([]RemoteIndexer, error) {
	key := schemaKey(baseURL)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		metrics.SchemaCacheLookups.WithLabelValues("hit").Inc()
		return cloneTemplates(entry.templates), nil
	}
	metrics.SchemaCacheLookups.WithLabelValues("miss").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		templates, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		stored := cloneTemplates(templates)
		c.mu.Lock()
		c.entries[key] = schemaEntry{templates: stored, fetchedAt: c.now()}
		c.mu.Unlock()
		return stored, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneTemplates(res.Val.([]RemoteIndexer)), nil
	}
}

// Invalidate drops the entry for baseURL so the next Get refetches.
func (c *SchemaCache) Invalidate(baseURL string) {
	c.mu.Lock()
	delete(c.entries, schemaKey(baseURL))
	c.mu.Unlock()
}

func cloneTemplates(in []RemoteIndexer) []RemoteIndexer {
	out := make([]RemoteIndexer, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
