// Package transport executes the HTTP request of an iteration and reports
// status, timing and a classified transport error. It never returns an error
// to the caller: failures are part of the Response.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.uber.org/zap"
)

// StatusTransportError is the status reported when no HTTP response arrived.
const StatusTransportError = 0

// Config contains HTTP client tuning.
type Config struct {
	// Timeout for a whole request, including reading the body
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives opens a new connection per request
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UserAgent is sent unless a request sets its own
	UserAgent string

	// Headers are applied to every request; request headers win
	Headers map[string]string
}

// DefaultConfig returns sensible defaults for load testing.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client is shared by all VUs of a run; it is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	userAgent  string
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for transport error details.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.With(zap.String("component", "transport"))
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client with a pooled transport built from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	c := &Client{
		// Timeouts are enforced per request through the context so that the
		// classification can tell a timeout from an interrupted iteration.
		httpClient: &http.Client{Transport: transport},
		headers:    headers,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request is one HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Timeout overrides the client timeout when set
	Timeout time.Duration
}

// Response carries the outcome of a Request.
type Response struct {
	// Status is the HTTP status, or StatusTransportError
	Status  int
	Headers http.Header
	Body    []byte

	StartTime time.Time

	// Latency is the time from sending until the body was read
	Latency time.Duration

	// TTFB is the time until the first response byte
	TTFB time.Duration

	BytesSent     int64
	BytesReceived int64

	// Err and ErrorKind are set when no complete response was received
	Err       error
	ErrorKind ErrorKind
}

// TransportError reports whether the request failed below HTTP.
func (r *Response) TransportError() bool {
	return r.ErrorKind != ErrNone
}

// Do executes req. ctx cancellation is reported as ErrInterrupted, the
// request timeout as ErrTimeout.
func (c *Client) Do(ctx context.Context, req *Request) *Response {
	resp := &Response{
		Status:    StatusTransportError,
		StartTime: time.Now(),
		BytesSent: int64(len(req.Body)),
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, body)
	if err != nil {
		resp.Err = err
		resp.ErrorKind = ErrInvalid
		return resp
	}
	c.applyHeaders(httpReq, req)

	var firstByte time.Time
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			firstByte = time.Now()
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(reqCtx, trace))

	start := time.Now()
	resp.StartTime = start
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		resp.Latency = time.Since(start)
		return c.fail(ctx, resp, err)
	}
	defer httpResp.Body.Close()

	resp.Status = httpResp.StatusCode
	resp.Headers = httpResp.Header

	data, err := io.ReadAll(httpResp.Body)
	resp.Latency = time.Since(start)
	if !firstByte.IsZero() {
		resp.TTFB = firstByte.Sub(start)
	}
	resp.Body = data
	resp.BytesReceived = int64(len(data))
	if err != nil {
		// The status line arrived but the body did not.
		resp.Status = StatusTransportError
		return c.fail(ctx, resp, err)
	}

	return resp
}

func (c *Client) applyHeaders(httpReq *http.Request, req *Request) {
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) fail(ctx context.Context, resp *Response, err error) *Response {
	resp.Err = err
	resp.ErrorKind = classify(ctx, err)
	if ce := c.logger.Check(zap.DebugLevel, "request failed"); ce != nil {
		ce.Write(zap.String("kind", string(resp.ErrorKind)), zap.Error(err))
	}
	return resp
}

// CloseIdleConnections releases pooled connections at the end of a run.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
