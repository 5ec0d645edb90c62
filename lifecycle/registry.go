package lifecycle

import (
	"fmt"
	"sort"
	"sync"
)

// RegistryError is the typed error taxonomy for module registration and
// dependency resolution, matching spec §4.8 exactly.
type RegistryError struct {
	Kind RegistryErrorKind
	Name string
	Path []string
}

type RegistryErrorKind int

const (
	ErrDuplicateModule RegistryErrorKind = iota
	ErrDuplicateRestHost
	ErrDuplicateGrpcHub
	ErrUnknownDependency
	ErrDependencyCycle
)

func (e *RegistryError) Error() string {
	switch e.Kind {
	case ErrDuplicateModule:
		return fmt.Sprintf("module %q is already registered", e.Name)
	case ErrDuplicateRestHost:
		return fmt.Sprintf("a rest host is already registered (tried to register %q)", e.Name)
	case ErrDuplicateGrpcHub:
		return fmt.Sprintf("a grpc hub is already registered (tried to register %q)", e.Name)
	case ErrUnknownDependency:
		return fmt.Sprintf("module %q depends on unregistered module %q", e.Name, e.Path[0])
	case ErrDependencyCycle:
		return fmt.Sprintf("dependency cycle: %v", e.Path)
	default:
		return "lifecycle: unknown registry error"
	}
}

// Record is the Module Record of spec §3: one per registered name, with
// core always set and the other capabilities attached incrementally by the
// corresponding register_* call.
type Record struct {
	Name        string
	Deps        []string
	Core        Module
	DB          DBModule
	RestHost    RestHostModule
	Rest        RestModule
	GrpcHub     GrpcHubModule
	GrpcService GrpcServiceModule
	Stateful    StatefulModule
}

func (r *Record) capabilities() []string {
	var caps []string
	if r.DB != nil {
		caps = append(caps, "db")
	}
	if r.RestHost != nil {
		caps = append(caps, "rest-host")
	}
	if r.Rest != nil {
		caps = append(caps, "rest")
	}
	if r.GrpcHub != nil {
		caps = append(caps, "grpc-hub")
	}
	if r.GrpcService != nil {
		caps = append(caps, "grpc-service")
	}
	if r.Stateful != nil {
		caps = append(caps, "stateful")
	}
	return caps
}

// Registry is the Module Registry & Dependency Resolver of spec §4.8.
type Registry struct {
	mu           sync.Mutex
	modules      map[string]*Record
	restHostName string
	grpcHubName  string
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Record)}
}

// RegisterCore creates name's Module Record with the given dependency list.
// deps are validated at BuildTopoSorted time, not here, so registration
// order is unconstrained.
func (reg *Registry) RegisterCore(name string, deps []string, module Module) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.modules[name]; exists {
		return &RegistryError{Kind: ErrDuplicateModule, Name: name}
	}
	reg.modules[name] = &Record{Name: name, Deps: deps, Core: module}
	return nil
}

func (reg *Registry) record(name string, core Module) *Record {
	r, ok := reg.modules[name]
	if !ok {
		r = &Record{Name: name, Core: core}
		reg.modules[name] = r
	}
	return r
}

func (reg *Registry) RegisterDB(name string, module DBModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.record(name, module).DB = module
	return nil
}

func (reg *Registry) RegisterRestHost(name string, module RestHostModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.restHostName != "" && reg.restHostName != name {
		return &RegistryError{Kind: ErrDuplicateRestHost, Name: name}
	}
	reg.restHostName = name
	reg.record(name, module).RestHost = module
	return nil
}

func (reg *Registry) RegisterRest(name string, module RestModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.record(name, module).Rest = module
	return nil
}

func (reg *Registry) RegisterGrpcHub(name string, module GrpcHubModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.grpcHubName != "" && reg.grpcHubName != name {
		return &RegistryError{Kind: ErrDuplicateGrpcHub, Name: name}
	}
	reg.grpcHubName = name
	reg.record(name, module).GrpcHub = module
	return nil
}

func (reg *Registry) RegisterGrpcService(name string, module GrpcServiceModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.record(name, module).GrpcService = module
	return nil
}

func (reg *Registry) RegisterStateful(name string, module StatefulModule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.record(name, module).Stateful = module
	return nil
}

// BuildTopoSorted resolves the core-dependency graph with a deterministic
// Kahn's algorithm: at each step the set of zero-indegree nodes is sorted by
// name before being dequeued, so the result is reproducible across runs
// (spec §4.8).
func (reg *Registry) BuildTopoSorted() ([]*Record, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	indegree := make(map[string]int, len(reg.modules))
	dependents := make(map[string][]string, len(reg.modules))

	for name, rec := range reg.modules {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range rec.Deps {
			if _, ok := reg.modules[dep]; !ok {
				return nil, &RegistryError{Kind: ErrUnknownDependency, Name: name, Path: []string{dep}}
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []*Record
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, reg.modules[name])

		next := append([]string(nil), dependents[name]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(reg.modules) {
		return nil, &RegistryError{Kind: ErrDependencyCycle, Path: remainingNames(indegree, order)}
	}

	return order, nil
}

func remainingNames(indegree map[string]int, resolved []*Record) []string {
	done := make(map[string]struct{}, len(resolved))
	for _, r := range resolved {
		done[r.Name] = struct{}{}
	}
	var remaining []string
	for name := range indegree {
		if _, ok := done[name]; !ok {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	return remaining
}

// Capabilities returns the declared capability names for name, for
// diagnostics and tests.
func (reg *Registry) Capabilities(name string) []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.modules[name]
	if !ok {
		return nil
	}
	return rec.capabilities()
}
