package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer/ratelimit"
	"github.com/slipstream/indexarr/internal/indexer/request"
	"github.com/slipstream/indexarr/internal/indexer/session"
	"github.com/slipstream/indexarr/internal/indexer/types"
	"github.com/slipstream/indexarr/internal/metrics"
)

// errLoginStillNeeded is the cause of the AuthError raised when a response
// still demands a login after the one permitted re-login.
var errLoginStillNeeded = errors.New("site still requires login after re-authenticating")

// Adapter is one searchable indexer: a Definition plus the session,
// executor and limiter that drive it.
type Adapter struct {
	info     types.IndexerDefinition
	def      Definition
	auth     session.Authenticator
	sessions *session.Manager
	executor Executor
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
}

// AdapterOptions carries optional collaborators for NewAdapter.
type AdapterOptions struct {
	SessionStore session.Store
	Limiter      *ratelimit.Limiter
	Logger       zerolog.Logger
	SessionOpts  []session.ManagerOption
}

// NewAdapter wraps def for the configured indexer info.
func NewAdapter(info *types.IndexerDefinition, def Definition, exec Executor, opts AdapterOptions) *Adapter {
	logger := opts.Logger.With().
		Str("component", "adapter").
		Int64("indexerId", info.ID).
		Str("indexer", info.Name).
		Logger()

	a := &Adapter{
		info:     *info,
		def:      def,
		executor: exec,
		limiter:  opts.Limiter,
		logger:   logger,
	}
	a.info.Capabilities = def.Capabilities()
	if auth, ok := def.(session.Authenticator); ok {
		a.auth = auth
	}
	a.sessions = session.NewManager(info.ID, info.Name, a.auth, opts.SessionStore, opts.Logger, opts.SessionOpts...)
	return a
}

// ID returns the indexer id.
func (a *Adapter) ID() int64 { return a.info.ID }

// Name returns the indexer name.
func (a *Adapter) Name() string { return a.info.Name }

// Info returns the indexer definition with capabilities filled in.
func (a *Adapter) Info() types.IndexerDefinition { return a.info }

// Capabilities returns the declared capabilities.
func (a *Adapter) Capabilities() *types.Capabilities { return a.info.Capabilities }

// SessionState reports the login state.
func (a *Adapter) SessionState() session.State { return a.sessions.State() }

// Search runs criteria against the site. An unsupported search kind yields
// no releases and no error.
func (a *Adapter) Search(ctx context.Context, criteria types.SearchCriteria) ([]types.ReleaseInfo, error) {
	start := time.Now()
	releases, err := a.search(ctx, criteria)

	metrics.SearchDuration.WithLabelValues(a.info.Name).Observe(time.Since(start).Seconds())
	metrics.SearchTotal.WithLabelValues(a.info.Name, resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	metrics.ReleasesParsed.WithLabelValues(a.info.Name).Add(float64(len(releases)))
	return releases, nil
}

func (a *Adapter) search(ctx context.Context, criteria types.SearchCriteria) ([]types.ReleaseInfo, error) {
	if criteria.Kind == "" {
		criteria.Kind = types.SearchKindBasic
	}
	if !a.info.Capabilities.Supports(criteria.Kind) {
		a.logger.Debug().Str("kind", string(criteria.Kind)).Msg("Search kind not supported, returning no results")
		return []types.ReleaseInfo{}, nil
	}

	if a.limiter != nil && !a.limiter.AllowQuery(a.info.ID) {
		return nil, NewRateLimitError(a.info.ID, a.info.Name)
	}

	chain := BuildChain(a.def, criteria)
	first, ok := chain.Next()
	if !ok {
		return []types.ReleaseInfo{}, nil
	}

	held, err := a.sessions.Acquire(ctx)
	if err != nil {
		return nil, a.sessionError(ctx, err)
	}
	cookies := held.Cookies
	relogged := false
	pageSize := 0
	if p, ok := a.def.(PageSizer); ok {
		pageSize = p.PageSize()
	}

	releases := make([]types.ReleaseInfo, 0)
	for req := first; ok; req, ok = chain.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := a.execute(ctx, req, cookies)
		if err != nil {
			return nil, err
		}

		if a.auth != nil && a.auth.LoginNeeded(resp) {
			if relogged {
				a.logger.Warn().Str("url", req.URL).Msg("Login still required after re-login")
				return nil, NewAuthError(a.info.ID, a.info.Name, errLoginStillNeeded)
			}
			relogged = true
			a.logger.Info().Str("url", req.URL).Msg("Session rejected by site, logging in again")

			held, err = a.sessions.Relogin(ctx, held)
			if err != nil {
				return nil, a.sessionError(ctx, err)
			}
			cookies = held.Cookies

			resp, err = a.execute(ctx, req, cookies)
			if err != nil {
				return nil, err
			}
			if a.auth.LoginNeeded(resp) {
				a.logger.Warn().Str("url", req.URL).Msg("Login still required after re-login")
				return nil, NewAuthError(a.info.ID, a.info.Name, errLoginStillNeeded)
			}
		}

		if err := a.checkStatus(resp); err != nil {
			return nil, err
		}
		cookies = session.MergeCookies(cookies, resp.Cookies)

		page, err := a.def.ParseResponse(resp)
		if err != nil {
			var ie *IndexerError
			if errors.As(err, &ie) {
				return nil, err
			}
			return nil, NewParseError(a.info.ID, a.info.Name, "failed to parse response", err)
		}
		for i := range page {
			releases = append(releases, a.tag(page[i]))
		}

		a.logger.Debug().Str("url", req.URL).Int("releases", len(page)).Msg("Parsed response")

		if pageSize > 0 && len(page) < pageSize {
			break
		}
	}

	return releases, nil
}

// TestConnection validates credentials and reachability with an unfiltered
// browse of the latest releases.
func (a *Adapter) TestConnection(ctx context.Context) error {
	criteria := types.SearchCriteria{Kind: types.SearchKindBasic, Limit: 1}
	releases, err := a.Search(ctx, criteria)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Connection test failed")
		return err
	}
	if len(releases) == 0 {
		a.logger.Warn().Msg("Connection test succeeded but returned no releases")
	}
	return nil
}

func (a *Adapter) execute(ctx context.Context, req *request.Request, cookies []*http.Cookie) (*request.Response, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, a.info.ID); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewRateLimitError(a.info.ID, a.info.Name)
		}
	}

	metrics.RequestsSent.WithLabelValues(a.info.Name).Inc()
	resp, err := a.executor.Execute(ctx, req, cookies)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewTransportError(a.info.ID, a.info.Name, err)
	}
	return resp, nil
}

func (a *Adapter) checkStatus(resp *request.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewAuthError(a.info.ID, a.info.Name, fmt.Errorf("site returned status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return NewTransportError(a.info.ID, a.info.Name,
			&request.TransportError{URL: resp.Request.URL, StatusCode: resp.StatusCode})
	}
	return nil
}

func (a *Adapter) sessionError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ie *IndexerError
	if errors.As(err, &ie) {
		return err
	}
	var te *request.TransportError
	if errors.As(err, &te) {
		return NewTransportError(a.info.ID, a.info.Name, err)
	}
	return NewAuthError(a.info.ID, a.info.Name, err)
}

func (a *Adapter) tag(r types.ReleaseInfo) types.ReleaseInfo {
	r.IndexerID = a.info.ID
	r.IndexerName = a.info.Name
	r.IndexerPriority = a.info.Priority
	if r.Protocol == "" {
		r.Protocol = a.info.Protocol
	}
	if r.GUID == "" {
		r.GUID = r.DownloadURL
	}
	return r
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsAuthError(err):
		return "auth_error"
	case IsTransportError(err):
		return "transport_error"
	case IsParseError(err):
		return "parse_error"
	case IsRateLimitError(err):
		return "rate_limited"
	default:
		return "error"
	}
}
