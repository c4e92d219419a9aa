// Package ratelimit paces outbound requests per indexer and enforces an
// optional per-period query quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config defines rate limit configuration.
type Config struct {
	// RequestRate is the sustained number of requests per second sent to one indexer
	RequestRate float64
	// RequestBurst is the number of requests allowed back to back
	RequestBurst int
	// QueryLimit is the maximum number of searches allowed in QueryPeriod, 0 for unlimited
	QueryLimit int
	// QueryPeriod is the window for QueryLimit
	QueryPeriod time.Duration
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		RequestRate:  0.5,
		RequestBurst: 2,
		QueryLimit:   0,
		QueryPeriod:  time.Hour,
	}
}

// Limiter tracks request pacing and query quotas per indexer.
type Limiter struct {
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu       sync.Mutex
	pacers   map[int64]*rate.Limiter
	queries  map[int64]*rateBucket
	override map[int64]Config
}

// rateBucket tracks the query quota of a single indexer.
type rateBucket struct {
	count     int
	resetTime time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config, logger zerolog.Logger) *Limiter {
	return &Limiter{
		logger:   logger.With().Str("component", "rate-limiter").Logger(),
		config:   config,
		now:      time.Now,
		pacers:   make(map[int64]*rate.Limiter),
		queries:  make(map[int64]*rateBucket),
		override: make(map[int64]Config),
	}
}

// Configure sets limits for one indexer, replacing the defaults.
func (l *Limiter) Configure(indexerID int64, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.override[indexerID] = cfg
	delete(l.pacers, indexerID)
	delete(l.queries, indexerID)
}

// Wait blocks until the indexer may receive another request or ctx is done.
func (l *Limiter) Wait(ctx context.Context, indexerID int64) error {
	return l.pacer(indexerID).Wait(ctx)
}

// AllowQuery records a search against the indexer's quota and reports
// whether it is within the limit.
func (l *Limiter) AllowQuery(indexerID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := l.configFor(indexerID)
	if cfg.QueryLimit <= 0 {
		return true
	}

	bucket := l.bucket(indexerID, cfg)
	if bucket.count >= cfg.QueryLimit {
		l.logger.Warn().
			Int64("indexerId", indexerID).
			Int("count", bucket.count).
			Int("limit", cfg.QueryLimit).
			Msg("Query rate limit reached")
		return false
	}
	bucket.count++
	return true
}

// Status returns the current quota state for an indexer.
func (l *Limiter) Status(indexerID int64) *LimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := l.configFor(indexerID)
	bucket := l.bucket(indexerID, cfg)
	return &LimitStatus{
		IndexerID:      indexerID,
		QueryCount:     bucket.count,
		QueryLimit:     cfg.QueryLimit,
		QueryResetTime: bucket.resetTime,
		QueryLimited:   cfg.QueryLimit > 0 && bucket.count >= cfg.QueryLimit,
		RequestRate:    cfg.RequestRate,
	}
}

// Reset clears the rate limit state for an indexer.
func (l *Limiter) Reset(indexerID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.pacers, indexerID)
	delete(l.queries, indexerID)

	l.logger.Info().Int64("indexerId", indexerID).Msg("Reset rate limits")
}

func (l *Limiter) pacer(indexerID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.pacers[indexerID]; ok {
		return p
	}
	cfg := l.configFor(indexerID)
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	burst := max(cfg.RequestBurst, 1)
	p := rate.NewLimiter(limit, burst)
	l.pacers[indexerID] = p
	return p
}

func (l *Limiter) configFor(indexerID int64) Config {
	if cfg, ok := l.override[indexerID]; ok {
		return cfg
	}
	return l.config
}

func (l *Limiter) bucket(indexerID int64, cfg Config) *rateBucket {
	now := l.now()
	bucket, ok := l.queries[indexerID]
	if !ok {
		bucket = &rateBucket{resetTime: now.Add(cfg.QueryPeriod)}
		l.queries[indexerID] = bucket
	}
	if now.After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = now.Add(cfg.QueryPeriod)
	}
	return bucket
}

// LimitStatus represents the current rate limit status for an indexer.
type LimitStatus struct {
	IndexerID      int64     `json:"indexerId"`
	QueryCount     int       `json:"queryCount"`
	QueryLimit     int       `json:"queryLimit"`
	QueryResetTime time.Time `json:"queryResetTime"`
	QueryLimited   bool      `json:"queryLimited"`
	RequestRate    float64   `json:"requestRate"`
}
