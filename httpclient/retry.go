package httpclient

import (
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// TriggerKind discriminates the retry Trigger sum type from spec §3.
type TriggerKind int

const (
	TriggerTransportError TriggerKind = iota
	TriggerTimeout
	TriggerStatus
	TriggerNonRetryable
)

// Trigger is one retryable condition. Status is only meaningful when Kind ==
// TriggerStatus.
type Trigger struct {
	Kind   TriggerKind
	Status int
}

func StatusTrigger(code int) Trigger { return Trigger{Kind: TriggerStatus, Status: code} }

var (
	TransportErrorTrigger = Trigger{Kind: TriggerTransportError}
	TimeoutTrigger        = Trigger{Kind: TriggerTimeout}
	// NonRetryable never matches; it exists so callers can express "never
	// retry this" in a TriggerSet without special-casing an empty set.
	NonRetryable = Trigger{Kind: TriggerNonRetryable}
)

// TriggerSet is a small set of Triggers.
type TriggerSet map[Trigger]struct{}

func NewTriggerSet(triggers ...Trigger) TriggerSet {
	s := make(TriggerSet, len(triggers))
	for _, t := range triggers {
		s[t] = struct{}{}
	}
	return s
}

func (s TriggerSet) has(t Trigger) bool {
	if t.Kind == TriggerNonRetryable {
		return false
	}
	_, ok := s[t]
	return ok
}

// idempotentMethods are the HTTP methods spec §3 treats as safe to retry
// without an idempotency key.
var idempotentMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPut:     {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

func isIdempotentMethod(method string) bool {
	_, ok := idempotentMethods[strings.ToUpper(method)]
	return ok
}

// Backoff configures the exponential-backoff-with-jitter schedule from
// spec §3 / §4.5.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// delay computes min(initial * multiplier^attempt, max) by driving
// backoff/v5's ExponentialBackOff through attempt+1 calls to NextBackOff
// (its RandomizationFactor left at zero so the sequence is deterministic),
// then applies this package's own uniform jitter in [0, 0.25*delay] when
// enabled, per spec §3/§8. A NaN/Inf/negative multiplier is treated as 1.0
// so backoff never panics or produces a non-finite delay.
func (b Backoff) delay(attempt int) time.Duration {
	mult := b.Multiplier
	if math.IsNaN(mult) || math.IsInf(mult, 0) || mult < 0 {
		mult = 1.0
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval: b.Initial,
		Multiplier:      mult,
		MaxInterval:     b.Max,
	}
	bo.Reset()

	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = bo.NextBackOff()
	}

	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if d < 0 {
		d = 0
	}
	if b.Jitter && d > 0 {
		d += time.Duration(rand.Float64() * 0.25 * float64(d))
	}
	return d
}

// RetryConfig configures the Retry layer, matching spec §3's Retry Config
// record exactly.
type RetryConfig struct {
	MaxRetries             int
	Backoff                Backoff
	AlwaysRetry            TriggerSet
	IdempotentRetry        TriggerSet
	IgnoreRetryAfter       bool
	RetryResponseDrainLimit int64
	SkipDrainOnRetry       bool
	IdempotencyKeyHeader   string
}

// DefaultRetryConfig matches the teacher's conservative defaults: three
// attempts total, exponential backoff with jitter, 5xx and transport/timeout
// triggers retried unconditionally, 429 retried only for idempotent/keyed
// requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		Backoff: Backoff{
			Initial:    100 * time.Millisecond,
			Max:        5 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
		AlwaysRetry: NewTriggerSet(
			TransportErrorTrigger, TimeoutTrigger,
			StatusTrigger(500), StatusTrigger(502), StatusTrigger(503), StatusTrigger(504),
		),
		IdempotentRetry:      NewTriggerSet(StatusTrigger(429)),
		RetryResponseDrainLimit: 64 * 1024,
		IdempotencyKeyHeader: "Idempotency-Key",
	}
}

func (c RetryConfig) retryableForResponse(method string, status int) bool {
	t := StatusTrigger(status)
	if c.AlwaysRetry.has(t) {
		return true
	}
	if c.IdempotentRetry.has(t) {
		return isIdempotentMethod(method)
	}
	return false
}

func (c RetryConfig) retryableForResponseWithKey(method string, status int, hasIdempotencyKey bool) bool {
	t := StatusTrigger(status)
	if c.AlwaysRetry.has(t) {
		return true
	}
	if c.IdempotentRetry.has(t) {
		return isIdempotentMethod(method) || hasIdempotencyKey
	}
	return false
}

func (c RetryConfig) retryableForTrigger(method string, t Trigger, hasIdempotencyKey bool) bool {
	if c.AlwaysRetry.has(t) {
		return true
	}
	if c.IdempotentRetry.has(t) {
		return isIdempotentMethod(method) || hasIdempotencyKey
	}
	return false
}

func (c RetryConfig) hasIdempotencyKey(req *http.Request) bool {
	if c.IdempotencyKeyHeader == "" {
		return false
	}
	return req.Header.Get(c.IdempotencyKeyHeader) != ""
}

// parseRetryAfter parses a Retry-After header (absolute HTTP date or
// seconds), returning nil if absent or unparseable. A past/zero value
// resolves to 0 (retry immediately) — the source treats it as immediate via
// the parser (spec Open Question; adopted as documented in DESIGN.md).
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		d := time.Duration(secs) * time.Second
		if d < 0 {
			d = 0
		}
		return &d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// retryRoundTripper implements the Retry layer: retryable-trigger
// classification, Retry-After honoring, total-deadline enforcement, body
// draining for connection reuse, and the X-Retry-Attempt header.
type retryRoundTripper struct {
	next         http.RoundTripper
	cfg          RetryConfig
	totalDeadline time.Duration // 0 means no total deadline
	now           func() time.Time
}

func newRetryRoundTripper(next http.RoundTripper, cfg RetryConfig, totalDeadline time.Duration) *retryRoundTripper {
	return &retryRoundTripper{next: next, cfg: cfg, totalDeadline: totalDeadline, now: time.Now}
}

func (rt *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := rt.now()
	hasKey := rt.cfg.hasIdempotencyKey(req)

	var lastResp *http.Response

	for attempt := 0; ; attempt++ {
		if rt.totalDeadline > 0 && rt.now().Sub(start) > rt.totalDeadline {
			if lastResp != nil {
				drainAndClose(lastResp, rt.cfg)
			}
			return nil, deadlineExceededErr(rt.totalDeadline)
		}

		attemptReq := req
		if attempt > 0 {
			attemptReq = cloneRequestForRetry(req, attempt)
		}

		resp, err := rt.next.RoundTrip(attemptReq)

		if err != nil {
			if attempt >= rt.cfg.MaxRetries {
				return nil, err
			}
			var trigger Trigger
			if to, ok := err.(interface{ Timeout() bool }); ok && to.Timeout() {
				trigger = TimeoutTrigger
			} else {
				trigger = TransportErrorTrigger
			}
			if !rt.cfg.retryableForTrigger(req.Method, trigger, hasKey) {
				return nil, err
			}
			if !rt.sleepBackoff(attempt, start, nil) {
				return nil, deadlineExceededErr(rt.totalDeadline)
			}
			continue
		}

		lastResp = resp

		if attempt >= rt.cfg.MaxRetries || !rt.cfg.retryableForResponseWithKey(req.Method, resp.StatusCode, hasKey) {
			return resp, nil
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		drainAndClose(resp, rt.cfg)

		if !rt.sleepBackoff(attempt, start, retryAfter) {
			return nil, deadlineExceededErr(rt.totalDeadline)
		}
	}
}

// sleepBackoff sleeps for the Retry-After duration (unless IgnoreRetryAfter)
// or the computed backoff. It returns false, without sleeping, if the total
// deadline has already passed; a sleep that runs past the deadline is not
// cut short, and the check before the next attempt reports it.
func (rt *retryRoundTripper) sleepBackoff(attempt int, start time.Time, retryAfter *time.Duration) bool {
	if rt.totalDeadline > 0 && rt.now().Sub(start) > rt.totalDeadline {
		return false
	}
	var d time.Duration
	if retryAfter != nil && !rt.cfg.IgnoreRetryAfter {
		d = *retryAfter
	} else {
		d = rt.cfg.Backoff.delay(attempt)
	}
	time.Sleep(d)
	return true
}

// drainAndClose reads up to the configured limit of a retried response's
// body to permit connection reuse, then closes it. Draining is skipped when
// configured to, or when Content-Length exceeds the limit.
func drainAndClose(resp *http.Response, cfg RetryConfig) {
	defer resp.Body.Close()
	if cfg.SkipDrainOnRetry {
		return
	}
	if resp.ContentLength > cfg.RetryResponseDrainLimit && cfg.RetryResponseDrainLimit > 0 {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, cfg.RetryResponseDrainLimit)
}

// cloneRequestForRetry clones req for a retry attempt, preserving HTTP
// version and extensions, rewinding the body if it's replayable, and
// injecting X-Retry-Attempt.
func cloneRequestForRetry(req *http.Request, attempt int) *http.Request {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err == nil {
			clone.Body = body
		}
	}
	clone.Header.Set("X-Retry-Attempt", strconv.Itoa(attempt))
	return clone
}
