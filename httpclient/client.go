package httpclient

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config aggregates every layer's configuration for building a Client.
type Config struct {
	Transport      TransportConfig
	Redirect       RedirectConfig
	Retry          RetryConfig
	TotalDeadline  time.Duration // 0 disables the total-deadline check
	AttemptTimeout time.Duration
	UserAgent      string
	MaxConcurrency int64
	BufferCapacity int
	Auth           AuthRoundTripperFunc // optional
	Metrics        *Metrics             // optional; nil disables metrics
	MaxBodySize    int64                // 0 disables the default body-size cap in bytes()/json()
}

func DefaultConfig() Config {
	return Config{
		Transport:      DefaultTransportConfig(),
		Redirect:       DefaultRedirectConfig(),
		Retry:          DefaultRetryConfig(),
		TotalDeadline:  30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		UserAgent:      "foundrykit-httpclient/1.0",
		MaxConcurrency: 64,
		BufferCapacity: 256,
		MaxBodySize:    10 << 20,
	}
}

// Client is the composed, Clone+Send+Sync outbound HTTP client described in
// spec §4.5. Layers are composed in the registration-reversed order so the
// runtime order is outer→inner: Buffer → Otel → LoadShed+Concurrency →
// Retry → [Auth]? → Timeout → UserAgent → Decompression →
// FollowRedirect(secure) → TransportTLS.
type Client struct {
	cfg     Config
	stack   http.RoundTripper
	http    *http.Client
	buf     *bufferedRoundTripper
}

// New builds a Client from cfg. Construction can fail only if the OS-native
// trust store can't be loaded.
func New(cfg Config) (*Client, error) {
	base, err := newBaseTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = &schemeRoundTripper{next: base, policy: cfg.Transport.SchemePolicy}
	rt = &redirectRoundTripper{next: rt, cfg: cfg.Redirect}
	rt = &decompressRoundTripper{next: rt}
	rt = &userAgentRoundTripper{next: rt, userAgent: cfg.UserAgent}
	rt = &timeoutRoundTripper{next: rt, timeout: cfg.AttemptTimeout}
	if cfg.Auth != nil {
		rt = &authRoundTripper{next: rt, fn: cfg.Auth}
	}
	rt = newRetryRoundTripper(rt, cfg.Retry, cfg.TotalDeadline)
	rt = newLoadShedRoundTripper(rt, cfg.MaxConcurrency)
	rt = newOtelRoundTripper(rt, cfg.Metrics)

	buf := newBufferedRoundTripper(rt, cfg.BufferCapacity, cfg.MaxConcurrency)

	return &Client{
		cfg:   cfg,
		stack: buf,
		buf:   buf,
		http:  &http.Client{Transport: buf, CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }},
	}, nil
}

// NewWithMetrics is a convenience constructor that registers Prometheus
// metrics against reg before building the Client.
func NewWithMetrics(cfg Config, reg prometheus.Registerer) (*Client, error) {
	cfg.Metrics = NewMetrics(reg)
	return New(cfg)
}

// Close makes the client's buffer reject new requests; its background
// workers finish the jobs already enqueued and then exit.
func (c *Client) Close() { c.buf.Close() }

// Get, Post, Put, Patch, Delete, Head return a RequestBuilder for the given
// URL and HTTP method.
func (c *Client) Get(url string) *RequestBuilder    { return c.newBuilder(http.MethodGet, url) }
func (c *Client) Post(url string) *RequestBuilder   { return c.newBuilder(http.MethodPost, url) }
func (c *Client) Put(url string) *RequestBuilder    { return c.newBuilder(http.MethodPut, url) }
func (c *Client) Patch(url string) *RequestBuilder  { return c.newBuilder(http.MethodPatch, url) }
func (c *Client) Delete(url string) *RequestBuilder { return c.newBuilder(http.MethodDelete, url) }
func (c *Client) Head(url string) *RequestBuilder   { return c.newBuilder(http.MethodHead, url) }

func (c *Client) newBuilder(method, url string) *RequestBuilder {
	return &RequestBuilder{client: c, method: method, url: url, headers: http.Header{}}
}
