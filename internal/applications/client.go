package applications

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	//nolint:gosec // header name constant, not a credential
	apiKeyHeader = "X-Api-Key"
	maxErrorBody = 4 << 10
)

// Client talks to the REST API shared by the *arr applications.
type Client struct {
	baseURL    string
	apiPrefix  string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	URL           string
	APIKey        string
	APIVersion    string // "v1" or "v3"
	Timeout       time.Duration
	SkipSSLVerify bool
	HTTPClient    *http.Client
	Logger        *zerolog.Logger
}

// NewClient creates a Client for one application.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidApplication)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidApplication)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v3"
	}

	baseURL := strings.TrimSuffix(cfg.URL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := defaultTimeout
		if cfg.Timeout > 0 {
			timeout = cfg.Timeout
		}
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if cfg.SkipSSLVerify {
			//nolint:gosec // admin-configured endpoint, TLS verification optional
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().
		Str("component", "app-client").
		Str("url", baseURL).
		Logger()

	return &Client{
		baseURL:    baseURL,
		apiPrefix:  "/api/" + cfg.APIVersion,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     &logger,
	}, nil
}

// BaseURL returns the application's base url without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do executes an HTTP request with the API key header.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	reqURL := c.baseURL + c.apiPrefix + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).
			Str("method", method).
			Str("path", path).
			Msg("request failed")
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return resp, nil
}

// doJSON executes a request and decodes a 2xx JSON response into result.
func (c *Client) doJSON(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(method, path, resp); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Warn().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("body", string(bodyBytes)).
		Msg("request returned error status")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrRemoteNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRemoteRejected, describeFailure(bodyBytes))
	default:
		return fmt.Errorf("%w: status %d", ErrRemoteUnavailable, resp.StatusCode)
	}
}

// describeFailure flattens a validation failure list into one line.
func describeFailure(body []byte) string {
	var failures []validationFailure
	if err := json.Unmarshal(body, &failures); err == nil && len(failures) > 0 {
		msgs := make([]string, 0, len(failures))
		for _, f := range failures {
			if f.PropertyName != "" {
				msgs = append(msgs, f.PropertyName+": "+f.ErrorMessage)
			} else {
				msgs = append(msgs, f.ErrorMessage)
			}
		}
		return strings.Join(msgs, "; ")
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no details"
	}
	return msg
}

// SystemStatus fetches the application name and version.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.doJSON(ctx, http.MethodGet, "/system/status", nil, &status); err != nil {
		return nil, fmt.Errorf("system status: %w", err)
	}
	return &status, nil
}

// GetIndexers lists every indexer configured in the application.
func (c *Client) GetIndexers(ctx context.Context) ([]RemoteIndexer, error) {
	var out []RemoteIndexer
	if err := c.doJSON(ctx, http.MethodGet, "/indexer", nil, &out); err != nil {
		return nil, fmt.Errorf("list indexers: %w", err)
	}
	return out, nil
}

// GetIndexer fetches one indexer. A missing indexer yields ErrRemoteNotFound.
func (c *Client) GetIndexer(ctx context.Context, id int64) (*RemoteIndexer, error) {
	var out RemoteIndexer
	if err := c.doJSON(ctx, http.MethodGet, "/indexer/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, fmt.Errorf("get indexer %d: %w", id, err)
	}
	return &out, nil
}

// GetSchema returns the indexer templates offered by the application.
func (c *Client) GetSchema(ctx context.Context) ([]RemoteIndexer, error) {
	var out []RemoteIndexer
	if err := c.doJSON(ctx, http.MethodGet, "/indexer/schema", nil, &out); err != nil {
		return nil, fmt.Errorf("indexer schema: %w", err)
	}
	return out, nil
}

// AddIndexer creates an indexer and returns it with its remote id.
func (c *Client) AddIndexer(ctx context.Context, idx *RemoteIndexer) (*RemoteIndexer, error) {
	var out RemoteIndexer
	if err := c.doJSON(ctx, http.MethodPost, "/indexer", idx, &out); err != nil {
		return nil, fmt.Errorf("add indexer: %w", err)
	}
	return &out, nil
}

// UpdateIndexer replaces an existing indexer.
func (c *Client) UpdateIndexer(ctx context.Context, idx *RemoteIndexer) (*RemoteIndexer, error) {
	var out RemoteIndexer
	path := "/indexer/" + strconv.FormatInt(idx.ID, 10)
	if err := c.doJSON(ctx, http.MethodPut, path, idx, &out); err != nil {
		return nil, fmt.Errorf("update indexer %d: %w", idx.ID, err)
	}
	return &out, nil
}

// DeleteIndexer removes an indexer. Deleting one that is already gone
// succeeds.
func (c *Client) DeleteIndexer(ctx context.Context, id int64) error {
	err := c.doJSON(ctx, http.MethodDelete, "/indexer/"+strconv.FormatInt(id, 10), nil, nil)
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return fmt.Errorf("delete indexer %d: %w", id, err)
	}
	return nil
}

// TestIndexer asks the application to validate an indexer without saving it.
func (c *Client) TestIndexer(ctx context.Context, idx *RemoteIndexer) error {
	if err := c.doJSON(ctx, http.MethodPost, "/indexer/test", idx, nil); err != nil {
		return fmt.Errorf("test indexer: %w", err)
	}
	return nil
}
