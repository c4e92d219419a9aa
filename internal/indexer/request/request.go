// Package request models the outbound requests an indexer search produces:
// single requests, lazy request chains, and the executor that sends them.
package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request is one outbound call to an indexer site.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Form is sent url-encoded as the body of non-GET requests.
	Form url.Values
	// Body takes precedence over Form when set.
	Body []byte
	// NoRedirect returns 3xx responses as-is instead of following them, so
	// cookies set on the redirect itself are not lost.
	NoRedirect bool
	// Idempotent allows retries of a non-GET request. GET requests are
	// always retried.
	Idempotent bool
}

type noRedirectKey struct{}

// NewGet creates a GET request.
func NewGet(rawURL string) *Request {
	return &Request{Method: http.MethodGet, URL: rawURL, Header: make(http.Header)}
}

// NewPost creates a form POST request.
func NewPost(rawURL string, form url.Values) *Request {
	return &Request{Method: http.MethodPost, URL: rawURL, Header: make(http.Header), Form: form}
}

// NewJSON creates a POST request carrying a JSON body.
func NewJSON(rawURL string, body []byte) *Request {
	r := &Request{Method: http.MethodPost, URL: rawURL, Header: make(http.Header), Body: body}
	r.Header.Set("Content-Type", "application/json")
	return r
}

func (r *Request) retryable() bool {
	return r.Method == "" || r.Method == http.MethodGet || r.Idempotent
}

// HTTPRequest builds the net/http request. Each call returns a fresh request
// so a Request can be retried.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	switch {
	case r.Body != nil:
		body = bytes.NewReader(r.Body)
	case r.Form != nil && method != http.MethodGet:
		body = strings.NewReader(r.Form.Encode())
	}

	if r.NoRedirect {
		ctx = context.WithValue(ctx, noRedirectKey{}, true)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, vals := range r.Header {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}
	if r.Body == nil && r.Form != nil && method != http.MethodGet && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return req, nil
}

// Response is the fully read result of executing a Request.
type Response struct {
	Request    *Request
	StatusCode int
	Header     http.Header
	Body       []byte
	Cookies    []*http.Cookie
	// FinalURL is the URL after redirects.
	FinalURL string
}

// Content returns the body as a string.
func (r *Response) Content() string {
	return string(r.Body)
}

// Location resolves the redirect target of a 3xx response against the
// request URL. It returns "" when there is none.
func (r *Response) Location() string {
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	base, err := url.Parse(r.FinalURL)
	if err != nil {
		return loc
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return base.ResolveReference(ref).String()
}

// IsRedirect reports whether the response is a 3xx with a Location.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Header.Get("Location") != ""
}

// IsHTML reports whether the response declares an HTML content type.
func (r *Response) IsHTML() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "html")
}
