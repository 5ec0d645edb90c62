package gateway

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SecurityContext is attached to every request's context, either from a
// validated bearer token or the disabled-auth default.
type SecurityContext struct {
	TenantID  string
	SubjectID string
	Claims    map[string]any
}

type securityContextKey struct{}

func SecurityContextFrom(ctx context.Context) (SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(SecurityContext)
	return sc, ok
}

func withSecurityContext(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecRequirement names the resource/action a route's policy check is
// evaluated against (spec §4.6/§6's Operation Spec sec_requirement).
type SecRequirement struct {
	Resource string
	Action   string
}

// PolicyEngine decides whether a SecurityContext may perform req against an
// operation. Implementations are expected to be immutable after Init, per
// spec §5's "Policy engine handle: immutable after init".
type PolicyEngine interface {
	Evaluate(ctx context.Context, sc SecurityContext, req SecRequirement) (bool, error)
}

// AllowAllPolicyEngine is the degenerate policy used when no real engine is
// configured; every authenticated request passes.
type AllowAllPolicyEngine struct{}

func (AllowAllPolicyEngine) Evaluate(context.Context, SecurityContext, SecRequirement) (bool, error) {
	return true, nil
}

type policyEngineKey struct{}

func PolicyEngineFrom(ctx context.Context) PolicyEngine {
	if pe, ok := ctx.Value(policyEngineKey{}).(PolicyEngine); ok {
		return pe
	}
	return AllowAllPolicyEngine{}
}

// AuthConfig configures the Auth layer.
type AuthConfig struct {
	// Enabled toggles bearer-token validation. When false, every request to
	// a non-public route gets a default SecurityContext, and a warning is
	// logged once, on the first such request.
	Enabled bool
	// Secret is the HMAC key used to validate tokens. Required when Enabled.
	Secret []byte
	// RequireAuthByDefault controls the behavior for routes that declare no
	// sec_requirement and aren't marked public.
	RequireAuthByDefault bool
	DefaultTenantID       string
	DefaultSubjectID      string
}

// authenticate extracts and validates a bearer token, returning the derived
// SecurityContext.
func authenticate(cfg AuthConfig, r *http.Request) (SecurityContext, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return SecurityContext{}, fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return SecurityContext{}, fmt.Errorf("malformed authorization header")
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return cfg.Secret, nil
	})
	if err != nil || !token.Valid {
		return SecurityContext{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return SecurityContext{}, fmt.Errorf("malformed claims")
	}

	sub, _ := claims["sub"].(string)
	tenant, _ := claims["tenant_id"].(string)
	if sub == "" {
		return SecurityContext{}, fmt.Errorf("missing subject claim")
	}

	return SecurityContext{TenantID: tenant, SubjectID: sub, Claims: claims}, nil
}

// constantTimeEqual compares two strings in constant time, used by tests and
// any future API-key style comparisons.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
