package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

type operationContextKey struct{}

func withOperation(ctx context.Context, op OperationSpec, found bool) context.Context {
	return context.WithValue(ctx, operationContextKey{}, operationSlot{op: op, found: found})
}

type operationSlot struct {
	op    OperationSpec
	found bool
}

func operationFromContext(ctx context.Context) (OperationSpec, bool) {
	slot, ok := ctx.Value(operationContextKey{}).(operationSlot)
	if !ok {
		return OperationSpec{}, false
	}
	return slot.op, slot.found
}

// routeMatchMiddleware resolves the matching OperationSpec before MIME and
// RateLimit run, using the stdlib ServeMux's method+wildcard pattern
// matching so later layers and the final Router stage share one lookup.
func routeMatchMiddleware(mux *http.ServeMux, byPattern map[string]OperationSpec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pattern := mux.Handler(r)
			op, ok := byPattern[pattern]
			ctx := withOperation(r.Context(), op, ok)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// finalRouter is the innermost stage: it dispatches to the matched
// operation's handler, or responds 404 if nothing matched.
func finalRouter(w http.ResponseWriter, r *http.Request) error {
	op, ok := operationFromContext(r.Context())
	if !ok {
		WriteProblem(w, http.StatusNotFound, "Not Found", "no operation registered for this route", r.URL.Path)
		return nil
	}
	return op.Handler(w, r)
}

// Stack holds every gateway middleware layer's configuration and builds the
// final composed http.Handler from an operation Registry.
type Stack struct {
	RequestIDHeader string
	GatewayTimeout  time.Duration
	MaxBodyBytes    int64
	CORS            *CORSConfig
	Auth            AuthConfig
	Policy          PolicyEngine
	License         LicenseClient

	authWarnOnce sync.Once
	logf         func(string, ...any)
}

func DefaultStack() *Stack {
	return &Stack{
		RequestIDHeader: "X-Request-Id",
		GatewayTimeout:  30 * time.Second,
		MaxBodyBytes:    10 << 20,
		Policy:          AllowAllPolicyEngine{},
		logf:            func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
}

// Build composes the full middleware stack around reg's registered
// operations, plus the always-public health/docs endpoints, in the
// registration-reversed runtime order of spec §4.6:
// SetRequestId → PropagateRequestId → Trace → Timeout → BodyLimit → CORS? →
// MIME → RateLimit → ErrorMapping → Auth → PolicyInject → License → Router.
func (s *Stack) Build(reg *Registry) http.Handler {
	if s.logf == nil {
		s.logf = func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	}
	ops := reg.Snapshot()

	ops = append(ops, builtinOperations(reg)...)

	mux := http.NewServeMux()
	byPattern := make(map[string]OperationSpec, len(ops))
	for _, op := range ops {
		pattern := op.Method + " " + op.Path
		mux.HandleFunc(pattern, func(http.ResponseWriter, *http.Request) {})
		byPattern[pattern] = op
	}

	rl := newRateLimiter()

	innerChain := errorMappingFrom(
		authMiddleware(s.Auth, s.Policy, &s.authWarnOnce, s.logf),
		policyInjectMiddleware(s.Policy),
		licenseMiddleware(s.License),
	)

	var handler http.Handler = innerChain
	handler = rateLimitMiddleware(rl)(handler)
	handler = mimeMiddleware()(handler)
	if s.CORS != nil {
		handler = corsMiddleware(*s.CORS)(handler)
	}
	handler = bodyLimitMiddleware(s.MaxBodyBytes)(handler)
	handler = timeoutMiddleware(s.GatewayTimeout)(handler)
	handler = traceMiddleware(otel.Tracer("gateway"))(handler)
	handler = routeMatchMiddleware(mux, byPattern)(handler)
	handler = requestIDMiddleware(s.RequestIDHeader)(handler)

	return handler
}

// errorMappingFrom composes the HandlerFunc-with-error chain (Auth ->
// PolicyInject -> License -> Router) and adapts it to http.Handler at the
// ErrorMapping boundary.
func errorMappingFrom(layers ...func(HandlerFunc) HandlerFunc) http.Handler {
	chain := HandlerFunc(finalRouter)
	for i := len(layers) - 1; i >= 0; i-- {
		chain = layers[i](chain)
	}
	return errorMappingMiddleware(chain)
}

// builtinOperations returns /health, /healthz, /openapi.json, and /docs as
// synthetic public operations so they flow through the same match/dispatch
// path as registered operations while staying exempt from auth (spec
// §4.6/§6).
func builtinOperations(reg *Registry) []OperationSpec {
	health := func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
	healthz := func(w http.ResponseWriter, r *http.Request) error {
		_, err := w.Write([]byte("ok"))
		return err
	}
	openapi := func(w http.ResponseWriter, r *http.Request) error {
		doc := BuildOpenAPIDocument(reg, DefaultDocumentInfo())
		w.Header().Set("Content-Type", "application/json")
		return json.NewEncoder(w).Encode(doc)
	}
	docs := func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Content-Type", "text/html")
		_, err := w.Write([]byte(docsHTML))
		return err
	}

	mk := func(method, path string, h HandlerFunc) OperationSpec {
		spec, err := NewOperation(method, path).
			Handler(method+" "+path, h).
			Response(ResponseSpec{Status: 200, Description: "ok"}).
			Public().
			Build()
		if err != nil {
			panic(fmt.Sprintf("builtin operation %s %s: %v", method, path, err))
		}
		return spec
	}

	return []OperationSpec{
		mk(http.MethodGet, "/health", health),
		mk(http.MethodGet, "/healthz", healthz),
		mk(http.MethodGet, "/openapi.json", openapi),
		mk(http.MethodGet, "/docs", docs),
	}
}

const docsHTML = `<!doctype html>
<html>
<head><title>API Docs</title></head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
<script>
window.onload = () => SwaggerUIBundle({url: '/openapi.json', dom_id: '#swagger-ui'})
</script>
</body>
</html>`
