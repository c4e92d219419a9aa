package indexer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

// ErrImplementationNotFound is returned for an unknown implementation name.
var ErrImplementationNotFound = errors.New("implementation not found")

// Deps are the shared collaborators handed to a Factory.
type Deps struct {
	Executor Executor
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Factory builds a Definition from a configured indexer.
type Factory func(info *types.IndexerDefinition, deps Deps) (Definition, error)

// Implementation describes one adapter type.
type Implementation struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Description string         `json:"description"`
	Protocol    types.Protocol `json:"protocol"`
	Privacy     types.Privacy  `json:"privacy"`
	Factory     Factory        `json:"-"`
}

// Registry maps implementation names to factories.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]Implementation)}
}

// Register adds impl, replacing any previous registration with the same name.
func (r *Registry) Register(impl Implementation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[impl.Name] = impl
}

// Get returns the implementation registered under name.
func (r *Registry) Get(name string) (Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[name]
	if !ok {
		return Implementation{}, fmt.Errorf("%w: %s", ErrImplementationNotFound, name)
	}
	return impl, nil
}

// List returns all implementations sorted by name.
func (r *Registry) List() []Implementation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Implementation, 0, len(r.impls))
	for _, impl := range r.impls {
		out = append(out, impl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Build constructs the Definition for info.
func (r *Registry) Build(info *types.IndexerDefinition, deps Deps) (Definition, error) {
	impl, err := r.Get(info.Implementation)
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	def, err := impl.Factory(info, deps)
	if err != nil {
		return nil, NewConfigError(info.ID, info.Name, err.Error())
	}
	return def, nil
}
