package indexer

import (
	"context"
	"net/http"

	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

// Definition is the site-specific half of an adapter. Implementations build
// request chains and parse responses; the Adapter handles sessions,
// execution, retries and tagging.
//
// A Definition that needs a login also implements session.Authenticator.
type Definition interface {
	// Capabilities is fixed for the lifetime of the definition.
	Capabilities() *types.Capabilities

	// BasicRequests builds the generic search chain. It is used for basic
	// searches and for supported kinds without a dedicated generator.
	BasicRequests(c types.SearchCriteria) *request.Chain

	// ParseResponse turns one response into releases. Rows that cannot be
	// used are skipped; an error means the response had no recognizable
	// structure at all.
	ParseResponse(resp *request.Response) ([]types.ReleaseInfo, error)
}

// TVRequester builds chains for tvsearch queries.
type TVRequester interface {
	TVRequests(c types.SearchCriteria) *request.Chain
}

// MovieRequester builds chains for movie queries.
type MovieRequester interface {
	MovieRequests(c types.SearchCriteria) *request.Chain
}

// MusicRequester builds chains for music queries.
type MusicRequester interface {
	MusicRequests(c types.SearchCriteria) *request.Chain
}

// BookRequester builds chains for book queries.
type BookRequester interface {
	BookRequests(c types.SearchCriteria) *request.Chain
}

// PageSizer is implemented by definitions whose chains are paged. A page
// holding fewer releases than PageSize ends the chain.
type PageSizer interface {
	PageSize() int
}

// Executor sends one request. *request.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req *request.Request, cookies []*http.Cookie) (*request.Response, error)
}

// BuildChain selects the generator for the criteria kind. A kind the
// capabilities do not declare yields an empty chain.
func BuildChain(def Definition, c types.SearchCriteria) *request.Chain {
	caps := def.Capabilities()
	if c.Kind == "" {
		c.Kind = types.SearchKindBasic
	}
	if !caps.Supports(c.Kind) {
		return request.Empty()
	}

	switch c.Kind {
	case types.SearchKindTV:
		if g, ok := def.(TVRequester); ok {
			return g.TVRequests(c)
		}
	case types.SearchKindMovie:
		if g, ok := def.(MovieRequester); ok {
			return g.MovieRequests(c)
		}
	case types.SearchKindMusic:
		if g, ok := def.(MusicRequester); ok {
			return g.MusicRequests(c)
		}
	case types.SearchKindBook:
		if g, ok := def.(BookRequester); ok {
			return g.BookRequests(c)
		}
	}
	return def.BasicRequests(c)
}
