// Package status tracks indexer failures and backs off from indexers that
// keep failing.
package status

import (
	"time"
)

// IndexerStatus is the persisted failure state of an indexer.
type IndexerStatus struct {
	IndexerID         int64      `json:"indexerId"`
	InitialFailure    *time.Time `json:"initialFailure,omitempty"`
	MostRecentFailure *time.Time `json:"mostRecentFailure,omitempty"`
	EscalationLevel   int        `json:"escalationLevel"`
	DisabledTill      *time.Time `json:"disabledTill,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	LastSuccess       *time.Time `json:"lastSuccess,omitempty"`
	IsDisabled        bool       `json:"isDisabled"`
}

// HealthStatus represents the overall health of an indexer.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusDisabled HealthStatus = "disabled"
)

// IndexerHealth provides a summary of indexer health.
type IndexerHealth struct {
	IndexerID   int64        `json:"indexerId"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastSuccess *time.Time   `json:"lastSuccess,omitempty"`
	LastFailure *time.Time   `json:"lastFailure,omitempty"`
	DisabledFor *Duration    `json:"disabledFor,omitempty"`
}

// Duration is a JSON-serializable duration.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// BackoffConfig defines the backoff strategy for failed indexers.
type BackoffConfig struct {
	// InitialBackoff is the backoff duration after the first failure
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// Multiplier is the factor by which backoff increases
	Multiplier float64
	// MaxEscalation is the maximum escalation level
	MaxEscalation int
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialBackoff: 5 * time.Minute,
		MaxBackoff:     3 * time.Hour,
		Multiplier:     2.0,
		MaxEscalation:  5,
	}
}

// Backoff returns how long an indexer at level stays disabled.
func (c BackoffConfig) Backoff(level int) time.Duration {
	if level <= 0 {
		return 0
	}
	backoff := c.InitialBackoff
	for i := 1; i < level; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// Stats counts indexers by health.
type Stats struct {
	TotalIndexers    int `json:"totalIndexers"`
	HealthyIndexers  int `json:"healthyIndexers"`
	WarningIndexers  int `json:"warningIndexers"`
	DisabledIndexers int `json:"disabledIndexers"`
}
