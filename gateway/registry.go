package gateway

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// HandlerFunc is the registry's handler contract: it returns an error rather
// than writing one directly, so the ErrorMapping layer can convert any
// downstream failure into RFC 9457 Problem+JSON uniformly.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// RateLimitSpec is the per-operation {rps, burst, in_flight} triple from
// spec §3's Operation Spec.
type RateLimitSpec struct {
	RPS      float64
	Burst    int
	InFlight int
}

// RequestBodySpec describes exactly one of the four OpenAPI request-body
// shapes spec §6 allows.
type RequestBodySpec struct {
	SchemaRef    string // (a) reference to a registered component schema
	MultipartRef string // (b) multipart form with a single binary field
	RawOctet     bool   // (c) type: string, format: binary
	// (d) empty inline object is the zero value of RequestBodySpec.
	Required bool
}

// ResponseSpec describes one status-keyed response.
type ResponseSpec struct {
	Status      int
	Description string
	SchemaRef   string
	ContentType string // defaults to application/json when SchemaRef is set
}

// ParamSpec describes one path/query/header/cookie parameter.
type ParamSpec struct {
	Name     string
	In       string // path | query | header | cookie
	Required bool
	Schema   string // string|integer|number|boolean
}

// OperationSpec mirrors spec §3's Operation Spec record. Instances are built
// with OperationBuilder, whose Build method checks the registration
// invariants at run time.
type OperationSpec struct {
	Method             string
	Path               string
	OperationID        string
	Summary            string
	Description        string
	Tags               []string
	Params             []ParamSpec
	RequestBody        *RequestBodySpec
	Responses          []ResponseSpec
	HandlerID          string
	Handler            HandlerFunc
	SecRequirement     *SecRequirement
	IsPublic           bool
	RateLimit          *RateLimitSpec
	AllowedContentTypes []string
	LicenseFeature      string
}

// OperationBuilder accumulates an OperationSpec's fields before Register,
// refusing registration until a handler, at least one response, and an
// explicit auth decision are present (spec §4.7's builder contract).
type OperationBuilder struct {
	spec OperationSpec
	err  error
}

func NewOperation(method, path string) *OperationBuilder {
	return &OperationBuilder{spec: OperationSpec{Method: strings.ToUpper(method), Path: normalizePath(path)}}
}

func (b *OperationBuilder) OperationID(id string) *OperationBuilder { b.spec.OperationID = id; return b }
func (b *OperationBuilder) Summary(s string) *OperationBuilder     { b.spec.Summary = s; return b }
func (b *OperationBuilder) Description(s string) *OperationBuilder { b.spec.Description = s; return b }
func (b *OperationBuilder) Tags(tags ...string) *OperationBuilder  { b.spec.Tags = tags; return b }
func (b *OperationBuilder) Param(p ParamSpec) *OperationBuilder {
	b.spec.Params = append(b.spec.Params, p)
	return b
}
func (b *OperationBuilder) RequestBody(r RequestBodySpec) *OperationBuilder {
	b.spec.RequestBody = &r
	return b
}
func (b *OperationBuilder) Response(r ResponseSpec) *OperationBuilder {
	b.spec.Responses = append(b.spec.Responses, r)
	return b
}
func (b *OperationBuilder) Handler(id string, h HandlerFunc) *OperationBuilder {
	b.spec.HandlerID = id
	b.spec.Handler = h
	return b
}
func (b *OperationBuilder) RequireAuth(req SecRequirement) *OperationBuilder {
	b.spec.SecRequirement = &req
	return b
}
func (b *OperationBuilder) Public() *OperationBuilder {
	b.spec.IsPublic = true
	return b
}
func (b *OperationBuilder) RateLimitCfg(r RateLimitSpec) *OperationBuilder {
	b.spec.RateLimit = &r
	return b
}
func (b *OperationBuilder) AllowedContentTypes(ct ...string) *OperationBuilder {
	b.spec.AllowedContentTypes = ct
	return b
}
func (b *OperationBuilder) LicenseFeature(f string) *OperationBuilder {
	b.spec.LicenseFeature = f
	return b
}

// Build validates the builder contract and returns the finished spec.
func (b *OperationBuilder) Build() (OperationSpec, error) {
	if b.spec.Handler == nil {
		return OperationSpec{}, fmt.Errorf("operation %s %s: handler is required", b.spec.Method, b.spec.Path)
	}
	if len(b.spec.Responses) == 0 {
		return OperationSpec{}, fmt.Errorf("operation %s %s: at least one response is required", b.spec.Method, b.spec.Path)
	}
	if b.spec.SecRequirement == nil && !b.spec.IsPublic {
		return OperationSpec{}, fmt.Errorf("operation %s %s: auth decision (RequireAuth or Public) is required", b.spec.Method, b.spec.Path)
	}
	if b.spec.IsPublic && b.spec.SecRequirement != nil {
		return OperationSpec{}, fmt.Errorf("operation %s %s: a public operation cannot also declare sec_requirement", b.spec.Method, b.spec.Path)
	}
	return b.spec, nil
}

var wildcardSeg = regexp.MustCompile(`\{\*([^}]+)\}`)

// normalizePath rewrites a framework-style wildcard segment ({*name}) to the
// OpenAPI placeholder form ({name}), per spec §6.
func normalizePath(path string) string {
	return wildcardSeg.ReplaceAllString(path, "{$1}")
}

// Registry holds registered operations and component schemas. One RWMutex
// guards both tables: inserts take the write lock, and Snapshot and
// SchemaSnapshot return copies built under the read lock. The schema table
// is not copy-on-write, so readers and writers block one another while the
// lock is held.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]OperationSpec // keyed by method+path
	byHandler  map[string]struct{}
	schemas    map[string]SchemaDoc
}

func NewRegistry() *Registry {
	return &Registry{
		operations: make(map[string]OperationSpec),
		byHandler:  make(map[string]struct{}),
		schemas:    make(map[string]SchemaDoc),
	}
}

func opKey(method, path string) string { return method + " " + path }

// RegisterOperation inserts spec, rejecting duplicate (method, path) or
// duplicate handler_id.
func (reg *Registry) RegisterOperation(spec OperationSpec) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := opKey(spec.Method, spec.Path)
	if _, exists := reg.operations[key]; exists {
		return fmt.Errorf("operation %s already registered", key)
	}
	if _, exists := reg.byHandler[spec.HandlerID]; exists {
		return fmt.Errorf("handler id %q already registered", spec.HandlerID)
	}
	reg.operations[key] = spec
	reg.byHandler[spec.HandlerID] = struct{}{}
	return nil
}

// SchemaDoc is a named, reusable JSON Schema fragment for OpenAPI components.
type SchemaDoc struct {
	Name       string
	Type       string
	Properties map[string]SchemaDoc
	Items      *SchemaDoc
	Format     string
	Required   []string
}

// EnsureSchema registers name→doc if absent. If name is already registered
// with identical content it's a no-op; divergent content overrides with a
// warning returned to the caller to log (spec §4.7).
func (reg *Registry) EnsureSchema(name string, doc SchemaDoc) (overridden bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	existing, ok := reg.schemas[name]
	if !ok {
		reg.schemas[name] = doc
		return false
	}
	if schemaEqual(existing, doc) {
		return false
	}
	reg.schemas[name] = doc
	return true
}

func schemaEqual(a, b SchemaDoc) bool {
	if a.Name != b.Name || a.Type != b.Type || a.Format != b.Format || len(a.Properties) != len(b.Properties) ||
		len(a.Required) != len(b.Required) || (a.Items == nil) != (b.Items == nil) {
		return false
	}
	for i := range a.Required {
		if a.Required[i] != b.Required[i] {
			return false
		}
	}
	if a.Items != nil && !schemaEqual(*a.Items, *b.Items) {
		return false
	}
	for k, v := range a.Properties {
		bv, ok := b.Properties[k]
		if !ok || !schemaEqual(v, bv) {
			return false
		}
	}
	return true
}

// Snapshot returns the operations sorted by (path, method) for deterministic
// OpenAPI emission and routing.
func (reg *Registry) Snapshot() []OperationSpec {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]OperationSpec, 0, len(reg.operations))
	for _, op := range reg.operations {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func (reg *Registry) SchemaSnapshot() map[string]SchemaDoc {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make(map[string]SchemaDoc, len(reg.schemas))
	for k, v := range reg.schemas {
		out[k] = v
	}
	return out
}
