// Package applications keeps the indexer lists of paired download
// automation applications (Radarr, Sonarr, Lidarr, Readarr) in sync with
// the local indexer registry.
package applications

import (
	"fmt"
	"slices"
	"time"

	"github.com/slipstream/indexarr/internal/indexer/categories"
)

// SyncLevel controls which changes are pushed to an application.
type SyncLevel string

const (
	// SyncDisabled never touches the application.
	SyncDisabled SyncLevel = "disabled"
	// SyncAddOnly adds new indexers and removes deleted ones but never
	// rewrites an indexer already on the remote side.
	SyncAddOnly SyncLevel = "addOnly"
	// SyncFull keeps the remote list identical to the local one.
	SyncFull SyncLevel = "fullSync"
)

// Valid reports whether l is a known level.
func (l SyncLevel) Valid() bool {
	switch l {
	case SyncDisabled, SyncAddOnly, SyncFull:
		return true
	}
	return false
}

// Application is one paired remote application.
type Application struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Implementation string    `json:"implementation"`
	BaseURL        string    `json:"baseUrl"`
	APIKey         string    `json:"apiKey"`
	SyncLevel      SyncLevel `json:"syncLevel"`
	SyncCategories []int     `json:"syncCategories"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the fields a remote connection needs.
func (a *Application) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidApplication)
	}
	if _, ok := LookupFlavor(a.Implementation); !ok {
		return fmt.Errorf("%w: unknown implementation %q", ErrInvalidApplication, a.Implementation)
	}
	if a.BaseURL == "" {
		return fmt.Errorf("%w: base url is required", ErrInvalidApplication)
	}
	if a.APIKey == "" {
		return fmt.Errorf("%w: api key is required", ErrInvalidApplication)
	}
	if !a.SyncLevel.Valid() {
		return fmt.Errorf("%w: unknown sync level %q", ErrInvalidApplication, a.SyncLevel)
	}
	return nil
}

// AppIndexerMap links a local indexer to its copy inside an application.
type AppIndexerMap struct {
	ID              int64 `json:"id"`
	AppID           int64 `json:"appId"`
	IndexerID       int64 `json:"indexerId"`
	RemoteIndexerID int64 `json:"remoteIndexerId"`
}

// Action is the outcome of one sync operation.
type Action string

const (
	ActionNone    Action = "none"
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
	ActionRemoved Action = "removed"
	// ActionSkipped means the indexer is not eligible for the application.
	ActionSkipped Action = "skipped"
)

// SyncAction is a requested operation for SyncIndexer.
type SyncAction string

const (
	SyncActionAdd    SyncAction = "add"
	SyncActionUpdate SyncAction = "update"
	SyncActionRemove SyncAction = "remove"
)

// defaultSyncCategories returns parent and every standard child category.
func defaultSyncCategories(parents ...int) []int {
	var out []int
	for _, c := range categories.Tree() {
		if !slices.Contains(parents, c.ID) {
			continue
		}
		out = append(out, c.ID)
		for _, sub := range c.SubCategories {
			out = append(out, sub.ID)
		}
	}
	return out
}
