// Package lifecycle implements the module registry, dependency resolver,
// and phased startup/shutdown orchestrator described in spec §4.8/§4.9.
// The shape every module implements here is grounded in how the teacher's
// module/*.go files use modular.Application — Name(), Init(app), and the
// optional capability interfaces below — generalized to a self-contained
// contract since the teacher's own orchestrator package isn't vendored.
package lifecycle

import (
	"context"
	"net/http"
	"time"
)

// RuntimeContext is passed to every module's Init call. It carries the
// pieces spec §4.9 names: a config provider, a shared client hub, a
// cancellation handle, and metadata.
type RuntimeContext struct {
	Config     ConfigProvider
	ClientHub  ClientHub
	Cancel     context.Context
	Metadata   map[string]string
}

// ConfigProvider yields per-module JSON-like configuration values. The core
// doesn't read environment variables directly (spec §6); the embedding
// binary supplies an implementation.
type ConfigProvider interface {
	Get(module string) (raw []byte, ok bool)
}

// ClientHub is the shared handle modules use to obtain outbound HTTP
// clients or other shared connections. It's intentionally opaque here —
// the embedding binary decides its concrete shape.
type ClientHub interface {
	Lookup(name string) (any, bool)
}

// Module is the capability every registered component implements.
type Module interface {
	Name() string
	Init(ctx context.Context, rc RuntimeContext) error
}

// DBHandle is the shared database manager instance passed to DBModule.Migrate.
type DBHandle interface {
	Ping(ctx context.Context) error
}

// DBModule is the optional capability for modules with a migration step.
type DBModule interface {
	Module
	// HasDBConfig reports whether this module has DB configuration; when
	// false, Migrate is skipped rather than called with an empty config.
	HasDBConfig() bool
	Migrate(ctx context.Context, handle DBHandle) error
}

// RestHostModule is the at-most-one capability that owns the HTTP router
// lifecycle: Prepare runs before any RestModule registers routes, Finalize
// runs after all of them have.
type RestHostModule interface {
	Module
	PrepareRouter(ctx context.Context, router *http.ServeMux) error
	FinalizeRouter(ctx context.Context, router *http.ServeMux) error
}

// OperationRegistry is the registration hook a RestModule receives; declared
// here (rather than imported) so lifecycle has no import dependency on
// gateway. *gateway.Registry does not satisfy it directly, because its
// RegisterOperation takes a gateway.OperationSpec rather than any.
type OperationRegistry interface {
	RegisterOperation(spec any) error
}

// RestModule registers its routes against the REST host's router during
// REST-compose.
type RestModule interface {
	Module
	RegisterREST(ctx context.Context, router *http.ServeMux, registry OperationRegistry) error
}

// GRPCServiceRegistration is one gRPC service registration closure collected
// from a GrpcServiceModule and applied to the hub's route map.
type GRPCServiceRegistration struct {
	ServiceName string
	Register    func(hub any) error
}

// GrpcHubModule is the at-most-one capability owning the gRPC server.
type GrpcHubModule interface {
	Module
	Hub() any
}

// GrpcServiceModule contributes gRPC service registrations to the hub.
type GrpcServiceModule interface {
	Module
	GetGRPCServices(ctx context.Context) []GRPCServiceRegistration
}

// ReadySignal is handed to a stateful module's Start so it can flip from
// Starting to Running. A module that never calls Ready fails start after
// the orchestrator's grace period, a fixed 10s (readyGrace; see DESIGN.md).
type ReadySignal interface {
	Ready()
}

// StatefulModule runs a long-lived task for the orchestrator's Start/Run/Stop
// phases.
type StatefulModule interface {
	Module
	Start(ctx context.Context, ready ReadySignal) error
	Stop(ctx context.Context) error
	StopTimeout() time.Duration
}
