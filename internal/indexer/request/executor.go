package request

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	defaultRetryBase  = 500 * time.Millisecond
	maxBodySize       = 16 << 20
	defaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportError is a network-level failure that survived the executor's
// retries, or a server error status.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Client        Doer
	Timeout       time.Duration
	MaxRetries    uint64
	RetryBase     time.Duration
	UserAgent     string
	SkipTLSVerify bool
	Logger        zerolog.Logger
}

// Executor sends Requests, retrying transient network failures with
// bounded exponential backoff.
type Executor struct {
	client     Doer
	maxRetries uint64
	retryBase  time.Duration
	userAgent  string
	logger     zerolog.Logger
}

// NewExecutor creates an executor. When cfg.Client is nil an http.Client with
// cfg.Timeout is used; redirects are followed up to 10 hops.
func NewExecutor(cfg ExecutorConfig) *Executor {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.SkipTLSVerify {
			//nolint:gosec // admin-configured indexer, TLS verification optional
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.Context().Value(noRedirectKey{}) != nil {
					return http.ErrUseLastResponse
				}
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Executor{
		client:     client,
		maxRetries: cfg.MaxRetries,
		retryBase:  retryBase,
		userAgent:  userAgent,
		logger:     cfg.Logger.With().Str("component", "executor").Logger(),
	}
}

// DefaultExecutorConfig returns the settings used for indexer traffic.
func DefaultExecutorConfig(logger zerolog.Logger) ExecutorConfig {
	return ExecutorConfig{
		Timeout:    defaultTimeout,
		MaxRetries: defaultMaxRetries,
		RetryBase:  defaultRetryBase,
		Logger:     logger,
	}
}

// Execute sends req with the given cookies attached. Responses with status
// below 500 are returned as-is; connection failures and 5xx/429 statuses are
// retried and surface as *TransportError once retries are exhausted. Only GET
// and Idempotent requests are retried.
func (e *Executor) Execute(ctx context.Context, req *Request, cookies []*http.Cookie) (*Response, error) {
	retries := e.maxRetries
	if !req.retryable() {
		retries = 0
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(e.retryBase))

	resp, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*Response, error) {
		resp, err := e.do(ctx, req, cookies)
		if err != nil {
			var terr *TransportError
			if errors.As(err, &terr) && ctx.Err() == nil {
				e.logger.Debug().Err(err).Str("url", req.URL).Msg("Retrying request")
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Executor) do(ctx context.Context, req *Request, cookies []*http.Cookie) (*Response, error) {
	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	for _, c := range cookies {
		httpReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	e.logger.Debug().
		Str("method", httpReq.Method).
		Str("url", req.URL).
		Msg("executing request")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransportError{URL: req.URL, StatusCode: httpResp.StatusCode}
	}

	finalURL := req.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	return &Response{
		Request:    req,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Cookies:    httpResp.Cookies(),
		FinalURL:   finalURL,
	}, nil
}
