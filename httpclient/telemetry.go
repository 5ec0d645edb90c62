package httpclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the client's Prometheus instrumentation.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics registers the client's counters/histograms against reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions with other
// clients in the same process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "httpclient_requests_total",
			Help: "Outbound HTTP requests by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpclient_request_duration_seconds",
			Help:    "Outbound HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// otelRoundTripper creates a client span per attempt and records status and
// latency (spec §4.5's Otel layer).
type otelRoundTripper struct {
	next    http.RoundTripper
	tracer  trace.Tracer
	metrics *Metrics
}

func newOtelRoundTripper(next http.RoundTripper, metrics *Metrics) *otelRoundTripper {
	return &otelRoundTripper{next: next, tracer: otel.Tracer("httpclient"), metrics: metrics}
}

func (rt *otelRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := rt.tracer.Start(req.Context(), "httpclient.request",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		))
	defer span.End()

	start := time.Now()
	resp, err := rt.next.RoundTrip(req.WithContext(ctx))
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode >= 500 {
			outcome = "server_error"
		} else if resp.StatusCode >= 400 {
			outcome = "client_error"
		}
	}

	if rt.metrics != nil {
		rt.metrics.requests.WithLabelValues(req.Method, outcome).Inc()
		rt.metrics.latency.WithLabelValues(req.Method).Observe(elapsed.Seconds())
	}

	return resp, err
}

// userAgentRoundTripper sets a default User-Agent when the request doesn't
// carry one already.
type userAgentRoundTripper struct {
	next      http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", rt.userAgent)
	}
	return rt.next.RoundTrip(req)
}

// timeoutRoundTripper enforces the per-attempt timeout (spec §4.5's
// TimeoutLayer, distinct from the Retry layer's total deadline).
type timeoutRoundTripper struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (rt *timeoutRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.timeout <= 0 {
		return rt.next.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), rt.timeout)
	resp, err := rt.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, timeoutErr(rt.timeout)
		}
		return nil, err
	}
	// The attempt completed, but the body may still be read later (the
	// buffered client hands Response up before Bytes()/Json() are called).
	// Cancelling here would abort that read with "context canceled" even
	// though the deadline hasn't passed, so tie cancel to body close
	// instead; ctx's own timer still fires at rt.timeout regardless.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnCloseBody releases a timeoutRoundTripper's per-attempt context
// once the caller finishes reading the response body.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
