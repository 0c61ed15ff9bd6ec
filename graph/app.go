package graph

import (
	"context"
	"sync"

	"github.com/dshills/weavegraph-go/graph/emit"
)

// App is a compiled graph: an immutable topology plus the runtime
// collaborators (runner, event bus, checkpointer) needed to execute
// sessions against it. Construct one with GraphBuilder.Compile.
type App struct {
	runner       *Runner
	bus          *EventBus
	cfg          RuntimeConfig
	checkpointer Checkpointer
	emitter      emit.Emitter
	idGen        IDGenerator
}

// Runner returns the App's session runner for callers that drive
// supersteps themselves (interrupts, inspection between steps).
func (a *App) Runner() *Runner { return a.runner }

// EventBus returns the bus every NodeContext in this App emits to.
func (a *App) EventBus() *EventBus { return a.bus }

// Subscribe attaches a new listener to the App's event bus. Close the
// stream when done.
func (a *App) Subscribe() *EventStream { return a.bus.Subscribe() }

// Checkpointer returns the persistence backend the App was compiled
// with, or nil when running without persistence.
func (a *App) Checkpointer() Checkpointer { return a.checkpointer }

// sessionID picks the configured session id or generates one.
func (a *App) sessionID() string {
	if a.cfg.SessionID != "" {
		return a.cfg.SessionID
	}
	return a.idGen()
}

// Invoke creates (or resumes) a session and runs it to completion,
// returning the final state snapshot. The session id is
// RuntimeConfig.SessionID when set, otherwise generated.
func (a *App) Invoke(ctx context.Context, initial *VersionedState) (StateSnapshot, error) {
	id := a.sessionID()
	if _, err := a.runner.CreateSession(ctx, id, initial); err != nil {
		return StateSnapshot{}, err
	}
	return a.runner.RunUntilComplete(ctx, id)
}

// InvokeWithSession is Invoke with an explicit session id, for callers
// managing several concurrent sessions over one App.
func (a *App) InvokeWithSession(ctx context.Context, id string, initial *VersionedState) (StateSnapshot, error) {
	if _, err := a.runner.CreateSession(ctx, id, initial); err != nil {
		return StateSnapshot{}, err
	}
	return a.runner.RunUntilComplete(ctx, id)
}

// InvocationHandle is the join/abort handle of a streaming invocation.
type InvocationHandle struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	done   chan struct{}
	result StateSnapshot
	err    error
}

// Join blocks until the invocation finishes and returns its outcome.
// Safe to call from multiple goroutines; all observe the same result.
func (h *InvocationHandle) Join() (StateSnapshot, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Abort cancels the invocation's context. In-flight node tasks are
// cancelled cooperatively; the cancelled superstep produces no state
// change and no checkpoint. Join still returns, with the cancellation
// error.
func (h *InvocationHandle) Abort() { h.cancel() }

// InvokeStreaming starts the session in a background goroutine and
// returns immediately with a join handle and a subscribed event stream.
// When the run finishes — success, failure, or abort — a diagnostic
// event with the distinguished "stream_end" scope is broadcast before
// the handle unblocks, so stream consumers can terminate cleanly.
func (a *App) InvokeStreaming(ctx context.Context, initial *VersionedState) (*InvocationHandle, *EventStream, error) {
	stream := a.bus.Subscribe()

	runCtx, cancel := context.WithCancel(ctx)
	handle := &InvocationHandle{cancel: cancel, done: make(chan struct{})}

	id := a.sessionID()
	go func() {
		defer close(handle.done)
		defer cancel()

		var result StateSnapshot
		var err error
		if _, cerr := a.runner.CreateSession(runCtx, id, initial); cerr != nil {
			err = cerr
		} else {
			result, err = a.runner.RunUntilComplete(runCtx, id)
		}

		msg := "session completed"
		if err != nil {
			msg = "session failed: " + err.Error()
		}
		_ = a.bus.Send(DiagnosticEvent{ScopeLabel: StreamEndScope, Message: msg})

		handle.mu.Lock()
		handle.result = result
		handle.err = err
		handle.mu.Unlock()
	}()

	return handle, stream, nil
}
