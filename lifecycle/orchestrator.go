package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// State is one stateful module's position in the state machine of spec §4.9.
type State int

const (
	StateRegistered State = iota
	StateInitialized
	StateMigrated
	StateRestRegistered
	StateGrpcRegistered
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "Registered"
	case StateInitialized:
		return "Initialized"
	case StateMigrated:
		return "Migrated"
	case StateRestRegistered:
		return "RestRegistered"
	case StateGrpcRegistered:
		return "GrpcRegistered"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// OrchestratorErrorKind discriminates the failure phase, per spec §7.
type OrchestratorErrorKind int

const (
	InitFailed OrchestratorErrorKind = iota
	MigrateFailed
	RestFailed
	GrpcFailed
	StartFailed
	StopFailed
)

type OrchestratorError struct {
	Kind   OrchestratorErrorKind
	Module string
	Cause  error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s: module %q: %v", e.kindName(), e.Module, e.Cause)
}

func (e *OrchestratorError) Unwrap() error { return e.Cause }

func (e *OrchestratorError) kindName() string {
	switch e.Kind {
	case InitFailed:
		return "init failed"
	case MigrateFailed:
		return "migrate failed"
	case RestFailed:
		return "rest compose failed"
	case GrpcFailed:
		return "grpc compose failed"
	case StartFailed:
		return "start failed"
	case StopFailed:
		return "stop failed"
	default:
		return "lifecycle error"
	}
}

// readyGrace bounds how long a stateful module's Start has to call Ready()
// before the orchestrator treats it as a start failure. spec §4.9 leaves the
// exact grace implementation-defined; DESIGN.md records this as a fixed 10s
// rather than derived from stop_timeout, since a module's stop budget says
// nothing about how long its startup should take.
const readyGrace = 10 * time.Second

// DBOptions carries the optional DB manager handle for the Migrate phase.
// A nil Handle skips migration for every module.
type DBOptions struct {
	Handle DBHandle
}

// ShutdownOptions carries the caller's channel-based shutdown signal for the
// Run phase; cancelling the ctx passed to Run also ends that phase.
type ShutdownOptions struct {
	Done <-chan struct{}
}

// Orchestrator runs the Init→Migrate→RestCompose→GrpcCompose→Start→Run→Stop
// phase sequence of spec §4.9 over a Registry's topologically sorted
// modules.
type Orchestrator struct {
	registry *Registry
	rc       RuntimeContext
	opReg    OperationRegistry
	logf     func(string, ...any)

	mu     sync.Mutex
	states map[string]State
	router *http.ServeMux
}

func NewOrchestrator(registry *Registry, rc RuntimeContext, opReg OperationRegistry) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		rc:       rc,
		opReg:    opReg,
		states:   make(map[string]State),
		logf:     func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
}

func (o *Orchestrator) SetLogger(logf func(string, ...any)) { o.logf = logf }

func (o *Orchestrator) State(name string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[name]
}

func (o *Orchestrator) setState(name string, s State) {
	o.mu.Lock()
	o.states[name] = s
	o.mu.Unlock()
}

// Router returns the finalized REST router, valid only after Run has passed
// the REST-compose phase.
func (o *Orchestrator) Router() *http.ServeMux { return o.router }

type readySignal struct{ ch chan struct{} }

func (r readySignal) Ready() {
	select {
	case r.ch <- struct{}{}:
	default:
	}
}

type startedModule struct {
	rec    *Record
	cancel context.CancelFunc
	done   chan error
}

// Run executes the full phase sequence. ctx governs Init/Migrate/compose and
// is the parent of every stateful module's Start context; the Run phase
// blocks until ctx is cancelled or shutdown.Done fires.
func (o *Orchestrator) Run(ctx context.Context, db DBOptions, shutdown ShutdownOptions) error {
	order, err := o.registry.BuildTopoSorted()
	if err != nil {
		return err
	}

	for _, rec := range order {
		o.setState(rec.Name, StateRegistered)
	}

	if err := o.runInit(ctx, order); err != nil {
		return err
	}
	if err := o.runMigrate(ctx, order, db); err != nil {
		return err
	}
	if err := o.runRestCompose(ctx, order); err != nil {
		return err
	}
	if err := o.runGrpcCompose(ctx, order); err != nil {
		return err
	}

	started, err := o.runStart(ctx, order)
	if err != nil {
		return err
	}

	o.awaitShutdown(ctx, shutdown)

	o.stopStarted(started)
	return nil
}

func (o *Orchestrator) runInit(ctx context.Context, order []*Record) error {
	for _, rec := range order {
		if err := rec.Core.Init(ctx, o.rc); err != nil {
			o.setState(rec.Name, StateFailed)
			return &OrchestratorError{Kind: InitFailed, Module: rec.Name, Cause: err}
		}
		o.setState(rec.Name, StateInitialized)
	}
	return nil
}

func (o *Orchestrator) runMigrate(ctx context.Context, order []*Record, db DBOptions) error {
	if db.Handle == nil {
		return nil
	}
	for _, rec := range order {
		if rec.DB == nil || !rec.DB.HasDBConfig() {
			continue
		}
		if err := rec.DB.Migrate(ctx, db.Handle); err != nil {
			o.setState(rec.Name, StateFailed)
			return &OrchestratorError{Kind: MigrateFailed, Module: rec.Name, Cause: err}
		}
		o.setState(rec.Name, StateMigrated)
	}
	return nil
}

func (o *Orchestrator) runRestCompose(ctx context.Context, order []*Record) error {
	var hostRec *Record
	for _, rec := range order {
		if rec.RestHost != nil {
			hostRec = rec
			break
		}
	}
	if hostRec == nil {
		return nil
	}

	router := http.NewServeMux()
	if err := hostRec.RestHost.PrepareRouter(ctx, router); err != nil {
		return &OrchestratorError{Kind: RestFailed, Module: hostRec.Name, Cause: err}
	}

	for _, rec := range order {
		if rec.Rest == nil {
			continue
		}
		if err := rec.Rest.RegisterREST(ctx, router, o.opReg); err != nil {
			return &OrchestratorError{Kind: RestFailed, Module: rec.Name, Cause: err}
		}
		o.setState(rec.Name, StateRestRegistered)
	}

	if err := hostRec.RestHost.FinalizeRouter(ctx, router); err != nil {
		return &OrchestratorError{Kind: RestFailed, Module: hostRec.Name, Cause: err}
	}
	o.router = router
	return nil
}

func (o *Orchestrator) runGrpcCompose(ctx context.Context, order []*Record) error {
	var hubRec *Record
	for _, rec := range order {
		if rec.GrpcHub != nil {
			hubRec = rec
			break
		}
	}
	if hubRec == nil {
		return nil
	}

	var regs []GRPCServiceRegistration
	for _, rec := range order {
		if rec.GrpcService == nil {
			continue
		}
		regs = append(regs, rec.GrpcService.GetGRPCServices(ctx)...)
		o.setState(rec.Name, StateGrpcRegistered)
	}

	hub := hubRec.GrpcHub.Hub()
	for _, reg := range regs {
		if err := reg.Register(hub); err != nil {
			return &OrchestratorError{Kind: GrpcFailed, Module: hubRec.Name, Cause: err}
		}
	}
	return nil
}

func (o *Orchestrator) runStart(ctx context.Context, order []*Record) ([]*startedModule, error) {
	var started []*startedModule

	for _, rec := range order {
		if rec.Stateful == nil {
			continue
		}

		childCtx, cancel := context.WithCancel(ctx)
		readyCh := make(chan struct{}, 1)
		done := make(chan error, 1)

		o.setState(rec.Name, StateStarting)
		go func(rec *Record) {
			done <- rec.Stateful.Start(childCtx, readySignal{ch: readyCh})
		}(rec)

		select {
		case <-readyCh:
			o.setState(rec.Name, StateRunning)
			started = append(started, &startedModule{rec: rec, cancel: cancel, done: done})
		case err := <-done:
			cancel()
			o.setState(rec.Name, StateFailed)
			o.stopStarted(started)
			if err == nil {
				err = fmt.Errorf("module exited before signaling ready")
			}
			return nil, &OrchestratorError{Kind: StartFailed, Module: rec.Name, Cause: err}
		case <-time.After(readyGrace):
			cancel()
			o.setState(rec.Name, StateFailed)
			o.stopStarted(started)
			return nil, &OrchestratorError{Kind: StartFailed, Module: rec.Name,
				Cause: fmt.Errorf("ready signal not received within %s", readyGrace)}
		}
	}

	return started, nil
}

func (o *Orchestrator) awaitShutdown(ctx context.Context, shutdown ShutdownOptions) {
	select {
	case <-ctx.Done():
	case <-shutdown.Done:
	}
}

// stopStarted cancels and stops modules in reverse start order. A stop
// failure or timeout is logged and escalated to Failed, but never blocks
// stopping the rest (spec §4.9).
func (o *Orchestrator) stopStarted(started []*startedModule) {
	for i := len(started) - 1; i >= 0; i-- {
		m := started[i]
		o.setState(m.rec.Name, StateStopping)

		stopCtx, cancel := context.WithTimeout(context.Background(), m.rec.Stateful.StopTimeout())
		err := m.rec.Stateful.Stop(stopCtx)
		cancel()
		m.cancel()

		if err != nil {
			o.logf("lifecycle: module %q stop failed: %v", m.rec.Name, err)
			o.setState(m.rec.Name, StateFailed)
			continue
		}
		o.setState(m.rec.Name, StateStopped)
	}
}
