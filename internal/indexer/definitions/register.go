// Package definitions wires the built-in site definitions into a registry
// and loads indexer seed files.
package definitions

import (
	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/definitions/bakabt"
	"github.com/slipstream/indexarr/internal/indexer/definitions/hdbits"
	"github.com/slipstream/indexarr/internal/indexer/definitions/torznab"
)

// RegisterAll adds every built-in implementation to r.
func RegisterAll(r *indexer.Registry) {
	r.Register(bakabt.Implementation())
	r.Register(hdbits.Implementation())
	r.Register(torznab.Implementation())
	r.Register(torznab.NewznabImplementation())
}

// NewRegistry returns a registry holding the built-in implementations.
func NewRegistry() *indexer.Registry {
	r := indexer.NewRegistry()
	RegisterAll(r)
	return r
}
