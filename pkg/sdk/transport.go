package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request is a single call against the server, relative to the transport's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the fully read reply to a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Cookies parses every Set-Cookie header of the response once.
func (r *Response) Cookies() Cookies {
	return ParseSetCookies(r.Header)
}

// HTTPClient is the transport capability used by authenticators and clients.
// Implementations must return a non-nil Response whenever err is nil, whatever the
// status code.
type HTTPClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Transport implements HTTPClient on top of net/http.
type Transport struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// TransportOptions configures Transport construction.
type TransportOptions struct {
	HTTPClient         *http.Client
	InsecureSkipVerify bool
	Timeout            time.Duration
	RequestsPerSecond  float64
}

// TransportOption mutates TransportOptions.
type TransportOption func(*TransportOptions)

// WithTransportHTTPClient overrides the underlying http.Client.
func WithTransportHTTPClient(client *http.Client) TransportOption {
	return func(opts *TransportOptions) {
		opts.HTTPClient = client
	}
}

// WithInsecureSkipVerify disables TLS certificate verification, for servers using
// self-signed certificates.
func WithInsecureSkipVerify(skip bool) TransportOption {
	return func(opts *TransportOptions) {
		opts.InsecureSkipVerify = skip
	}
}

// WithTimeout sets a per-request timeout. Zero keeps the net/http default (none).
func WithTimeout(timeout time.Duration) TransportOption {
	return func(opts *TransportOptions) {
		opts.Timeout = timeout
	}
}

// WithRequestsPerSecond paces outgoing requests. Zero or negative means unlimited.
func WithRequestsPerSecond(rps float64) TransportOption {
	return func(opts *TransportOptions) {
		opts.RequestsPerSecond = rps
	}
}

// NewTransport creates a Transport for the server at baseURL.
func NewTransport(baseURL string, optFns ...TransportOption) *Transport {
	opts := TransportOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.HTTPClient
	if client == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		client = &http.Client{
			Transport: base,
			Timeout:   opts.Timeout,
			// Set-Cookie headers on redirect responses carry the session and CSRF
			// cookies, so redirects are never followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// BaseURL returns the server URL requests are resolved against.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Do sends req and reads the whole response body.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}

	target := t.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// newFormRequest builds a form-encoded POST, as used by the GPGAuth endpoints.
func newFormRequest(path string, form url.Values) *Request {
	return &Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
	}
}

// newJSONRequest builds a request carrying v as its JSON body. A nil v sends no body.
func newJSONRequest(method, path string, v any) (*Request, error) {
	req := &Request{
		Method: method,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", path, err)
		}
		req.Body = data
	}
	return req, nil
}

// envelope is the wrapper every JSON API response is sent in.
type envelope struct {
	Header struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"header"`
	Body json.RawMessage `json:"body"`
}

// decodeBody unwraps the response envelope and decodes its body into out.
func decodeBody(resp *Response, op string, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("%w: %s: decode envelope: %w", ErrProtocol, op, err)
	}
	if out == nil || len(env.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("%w: %s: decode body: %w", ErrProtocol, op, err)
	}
	return nil
}

// statusError builds a StatusError from resp, preferring the envelope message.
func statusError(op string, resp *Response) *StatusError {
	msg := strings.TrimSpace(string(resp.Body))
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && env.Header.Message != "" {
		msg = env.Header.Message
	}
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: msg}
}
