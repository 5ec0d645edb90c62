package gateway

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// publicPaths are always registered public regardless of operation config,
// per spec §4.6: health and documentation endpoints must not be subject to
// auth.
var publicPaths = map[string]struct{}{
	"/health":      {},
	"/healthz":     {},
	"/openapi.json": {},
	"/docs":        {},
}

func isAlwaysPublic(path string) bool {
	_, ok := publicPaths[path]
	return ok
}

// --- Request-id ---

type requestIDKey struct{}

func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware reads an incoming header (default X-Request-Id) or
// generates a UUID, propagating it on both context and response.
func requestIDMiddleware(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-Request-Id"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(header, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// --- Trace ---

// traceMiddleware creates a span per request, extracting an incoming W3C
// traceparent and recording method/path/request-id/status/latency.
func traceMiddleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.path", r.URL.Path),
					attribute.String("request.id", RequestIDFrom(ctx)),
				))
			defer span.End()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", rec.status))
			if rec.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			span.SetAttributes(attribute.Float64("http.duration_seconds", time.Since(start).Seconds()))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// --- Timeout ---

// timeoutMiddleware caps inbound request handling at d, matching the
// gateway's 30s ceiling distinct from the per-handler stall it overrides
// (spec §4.6/§5).
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"type":"https://foundrykit.dev/problems/timeout","title":"Gateway Timeout","status":504}`)
	}
}

// --- BodyLimit ---

func bodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large",
					fmt.Sprintf("body exceeds limit of %d bytes", maxBytes), r.URL.Path)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// --- CORS ---

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if cfg.AllowedHeaders == nil {
		cfg.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := false
			for _, o := range cfg.AllowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- MIME ---

// mimeMiddleware rejects requests whose Content-Type isn't in the matched
// operation's allow-list, stripping parameters (e.g. charset) before
// comparing, per spec §4.6.
func mimeMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := operationFromContext(r.Context())
			if !ok || len(op.AllowedContentTypes) == 0 || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			ct := r.Header.Get("Content-Type")
			if idx := strings.Index(ct, ";"); idx != -1 {
				ct = ct[:idx]
			}
			ct = strings.TrimSpace(ct)
			for _, allowed := range op.AllowedContentTypes {
				if strings.EqualFold(ct, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteProblem(w, http.StatusUnsupportedMediaType, "Unsupported Media Type",
				fmt.Sprintf("content-type %q not allowed", ct), r.URL.Path)
		})
	}
}

// --- RateLimit ---

type rateLimitEntry struct {
	limiter  *rate.Limiter
	inFlight chan struct{}
}

// rateLimiter holds one token bucket + in-flight semaphore per operation,
// keyed by handler id.
type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{entries: make(map[string]*rateLimitEntry)}
}

func (rl *rateLimiter) entry(op OperationSpec) *rateLimitEntry {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.entries[op.HandlerID]
	if !ok {
		spec := op.RateLimit
		e = &rateLimitEntry{
			limiter:  rate.NewLimiter(rate.Limit(spec.RPS), spec.Burst),
			inFlight: make(chan struct{}, maxInt(spec.InFlight, 1)),
		}
		rl.entries[op.HandlerID] = e
	}
	return e
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func rateLimitMiddleware(rl *rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := operationFromContext(r.Context())
			if !ok || op.RateLimit == nil {
				next.ServeHTTP(w, r)
				return
			}
			e := rl.entry(op)

			select {
			case e.inFlight <- struct{}{}:
				defer func() { <-e.inFlight }()
			default:
				w.Header().Set("Retry-After", "1")
				WriteProblem(w, http.StatusTooManyRequests, "Too Many Requests", "in-flight limit exceeded", r.URL.Path)
				return
			}

			reservation := e.limiter.Reserve()
			if d := reservation.Delay(); d > 0 {
				reservation.Cancel()
				retryAfter := int(d.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- ErrorMapping ---

// errorMappingMiddleware is the boundary between plain http.Handler
// middleware and the HandlerFunc-with-error chain (Auth, PolicyInject,
// License, Router). It recovers panics and maps returned errors to
// Problem+JSON.
func errorMappingMiddleware(inner HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				debug.PrintStack()
				WriteProblem(w, http.StatusInternalServerError, "Internal Server Error",
					fmt.Sprintf("panic: %v", rec), r.URL.Path)
			}
		}()
		if err := inner(w, r); err != nil {
			mapError(err, r.URL.Path).write(w)
		}
	})
}

// --- Auth ---

func authMiddleware(cfg AuthConfig, pe PolicyEngine, warnOnce *sync.Once, logf func(string, ...any)) func(HandlerFunc) HandlerFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			op, _ := operationFromContext(r.Context())

			if isAlwaysPublic(r.URL.Path) || op.IsPublic {
				return next(w, r)
			}

			if !cfg.Enabled {
				warnOnce.Do(func() { logf("auth disabled; injecting default security context") })
				sc := SecurityContext{TenantID: cfg.DefaultTenantID, SubjectID: cfg.DefaultSubjectID}
				ctx := withSecurityContext(r.Context(), sc)
				return next(w, r.WithContext(ctx))
			}

			sc, err := authenticate(cfg, r)
			if err != nil {
				if op.SecRequirement == nil && !cfg.RequireAuthByDefault {
					ctx := withSecurityContext(r.Context(), SecurityContext{})
					return next(w, r.WithContext(ctx))
				}
				WriteProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
				return nil
			}

			ctx := withSecurityContext(r.Context(), sc)

			if op.SecRequirement != nil {
				engine := pe
				if engine == nil {
					engine = AllowAllPolicyEngine{}
				}
				allowed, evalErr := engine.Evaluate(ctx, sc, *op.SecRequirement)
				if evalErr != nil {
					return evalErr
				}
				if !allowed {
					WriteProblem(w, http.StatusForbidden, "Forbidden", "policy denied", r.URL.Path)
					return nil
				}
			} else if cfg.RequireAuthByDefault {
				WriteProblem(w, http.StatusForbidden, "Forbidden", "no sec_requirement declared", r.URL.Path)
				return nil
			}

			return next(w, r.WithContext(ctx))
		}
	}
}

// --- PolicyInject ---

func policyInjectMiddleware(pe PolicyEngine) func(HandlerFunc) HandlerFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			ctx := context.WithValue(r.Context(), policyEngineKey{}, pe)
			return next(w, r.WithContext(ctx))
		}
	}
}

// --- License ---

// LicenseClient decides whether a feature is entitled. A nil LicenseClient
// means only the "base" feature is allowed through (spec §4.6).
type LicenseClient interface {
	Allows(ctx context.Context, feature string) (bool, error)
}

func licenseMiddleware(client LicenseClient) func(HandlerFunc) HandlerFunc {
	return func(next HandlerFunc) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			op, _ := operationFromContext(r.Context())
			if op.LicenseFeature == "" {
				return next(w, r)
			}
			if client == nil {
				if op.LicenseFeature != "base" {
					WriteProblem(w, http.StatusForbidden, "Forbidden", "feature not licensed", r.URL.Path)
					return nil
				}
				return next(w, r)
			}
			allowed, err := client.Allows(r.Context(), op.LicenseFeature)
			if err != nil {
				return err
			}
			if !allowed {
				WriteProblem(w, http.StatusForbidden, "Forbidden", "feature not licensed", r.URL.Path)
				return nil
			}
			return next(w, r)
		}
	}
}
