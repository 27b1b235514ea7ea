package livy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout applies to connect, read and write when unset.
	DefaultTimeout = 30 * time.Second

	// RequestedByHeader satisfies Livy's CSRF protection on POST.
	RequestedByHeader = "X-Requested-By"

	maxResponseBytes = 4 << 20
	maxBodySnippet   = 512
)

// Options configures a Client.
type Options struct {
	// ConnectTimeout bounds TCP connect and TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each socket read, including waiting for the response.
	ReadTimeout time.Duration

	// WriteTimeout bounds each socket write of the request.
	WriteTimeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// RequestedBy is sent as X-Requested-By. Defaults to "golivy".
	RequestedBy string

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper

	Logger *zap.Logger
}

// Client issues batch requests against a single Livy endpoint.
//
// Each method is exactly one HTTP call with no retry.
type Client struct {
	endpoint    string
	http        *http.Client
	limiter     *rate.Limiter
	requestedBy string
	logger      *zap.Logger
}

// NewClient creates a client for endpoint (scheme://[user:pass@]host:port).
func NewClient(endpoint string, opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultTimeout
	}
	if opts.RequestedBy == "" {
		opts.RequestedBy = "golivy"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transport := opts.Transport
	if transport == nil {
		transport = newTransport(opts)
	}

	c := &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		http:        &http.Client{Transport: transport},
		requestedBy: opts.RequestedBy,
		logger:      opts.Logger,
	}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// Endpoint returns the base endpoint of the client.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit creates a batch. The request is not retried: a duplicate POST would
// create a duplicate batch.
func (c *Client) Submit(ctx context.Context, req *BatchRequest) (*Batch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}
	return c.do(ctx, "submit", http.MethodPost, BatchesURL(c.endpoint), body)
}

// FetchStatus reads the current status of a batch.
func (c *Client) FetchStatus(ctx context.Context, id int) (*Batch, error) {
	return c.do(ctx, "status", http.MethodGet, BatchURL(c.endpoint, id), nil)
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body []byte) (*Batch, error) {
	safeURL := redactURL(rawURL)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(RequestedByHeader, c.requestedBy)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: op, URL: safeURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: op, URL: safeURL, Err: err}
	}

	c.logger.Debug("Livy request completed",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", safeURL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{Op: op, URL: safeURL, StatusCode: resp.StatusCode, Body: snippet(data)}
	}

	batch, err := DecodeBatch(data)
	if err != nil {
		return nil, &ProtocolError{Op: op, URL: safeURL, StatusCode: resp.StatusCode, Body: snippet(data), Err: err}
	}
	return batch, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > maxBodySnippet {
		return s[:maxBodySnippet] + "..."
	}
	return s
}

// newTransport builds a transport whose read and write timeouts apply per
// socket operation. Keep-alives are off so no idle pooled connection sits
// under a read deadline between polls.
func newTransport(opts Options) *http.Transport {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: opts.ReadTimeout, write: opts.WriteTimeout}, nil
		},
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		DisableKeepAlives:     true,
	}
}

type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.read > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.read))
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.write > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.write))
	}
	return c.Conn.Write(p)
}
