// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cellflow

import (
	"context"
	"sync"

	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/errors"
)

// A Call is one dispatch invocation of an operation. It exists only
// for the duration of the dispatch; when execution is deferred, the
// continuation closure that captures it owns it.
type Call struct {
	// Op is the operation identifier being dispatched.
	Op string
	// Args are the operation's resolved argument artifacts, in
	// declaration order. The artifacts' handles are resolved; their
	// payloads may still be pending, and the implementation is
	// responsible for awaiting the payloads it needs, off the
	// dispatch-issuing goroutine.
	Args []Artifact
	// Attrs is the operation's attribute bag.
	Attrs Attrs
	// Results holds one pre-allocated indirect cell per declared
	// result. The implementation must resolve each exactly once,
	// either by forwarding a produced artifact cell or by setting an
	// error.
	Results []*async.Indirect[Artifact]
	// Gate is the happens-before gate for the operation's side
	// effects: an implementation with side effects must not make
	// them visible until Gate resolves. Gate is never nil; for
	// unsequenced dispatch it is already done. Pure operations may
	// ignore it.
	Gate *async.Token
	// Effects must be resolved by the implementation once all of its
	// side effects, including all result writes, are visible (or
	// have failed).
	Effects *async.Token
}

// An Op is a runnable operation implementation. Ops are invoked on
// the dispatching goroutine once their argument handles are resolved
// and must not block: long work belongs on a worker, with results
// delivered through the call's cells.
type Op func(ctx context.Context, call *Call)

// A Handler resolves operation identifiers to implementations for
// one execution backend. Handlers form fallback chains: an
// identifier not found in a handler is looked up in its fallback,
// so a specialized handler needs to register only the operations it
// overrides.
type Handler struct {
	name     string
	fallback *Handler

	mu  sync.Mutex
	ops map[string]Op
}

// NewHandler returns a new handler with the given name and fallback.
// A nil fallback terminates the chain.
func NewHandler(name string, fallback *Handler) *Handler {
	return &Handler{name: name, fallback: fallback, ops: make(map[string]Op)}
}

// Name returns the handler's name.
func (h *Handler) Name() string { return h.name }

// Register registers implementation impl for operation identifier
// op. Registering the same identifier twice on one handler panics.
func (h *Handler) Register(op string, impl Op) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.ops[op]; ok {
		panic("cellflow: operation " + op + " registered twice on handler " + h.name)
	}
	h.ops[op] = impl
}

// Lookup resolves operation identifier op against the handler and
// its fallback chain. A failed lookup returns a NotExist error; it
// is never fatal to the process.
func (h *Handler) Lookup(op string) (Op, error) {
	for c := h; c != nil; c = c.fallback {
		c.mu.Lock()
		impl, ok := c.ops[op]
		c.mu.Unlock()
		if ok {
			return impl, nil
		}
	}
	return nil, errors.E("lookup", op, errors.NotExist, errors.New("operation not registered on handler "+h.name))
}

// A Registry names the handlers available to a dispatcher.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]*Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Add registers handler h under its name. Adding two handlers with
// the same name panics.
func (r *Registry) Add(h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[h.Name()]; ok {
		panic("cellflow: handler " + h.Name() + " registered twice")
	}
	r.handlers[h.Name()] = h
}

// Handler resolves a handler by name, returning a NotExist error if
// no such handler has been registered.
func (r *Registry) Handler(name string) (*Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handlers[name]; ok {
		return h, nil
	}
	return nil, errors.E("handler", name, errors.NotExist)
}

// A Fn is an externally supplied sub-computation with a fixed
// argument and result arity, such as a conditional branch. Fns
// consume and produce artifact cells, so they may be invoked before
// their arguments are ready.
type Fn struct {
	// Name identifies the sub-computation in logs and errors.
	Name string
	// NArgs and NResults declare the sub-computation's arity.
	NArgs, NResults int
	// Body evaluates the sub-computation.
	Body func(ctx context.Context, args []async.Ref[Artifact]) []async.Ref[Artifact]
}

// Call invokes the sub-computation. It panics if the argument count
// or the body's result count disagrees with the declared arity:
// arity mismatches are caller contract violations, not recoverable
// errors.
func (f *Fn) Call(ctx context.Context, args []async.Ref[Artifact]) []async.Ref[Artifact] {
	if len(args) != f.NArgs {
		panic("cellflow: fn " + f.Name + ": argument count mismatch")
	}
	results := f.Body(ctx, args)
	if len(results) != f.NResults {
		panic("cellflow: fn " + f.Name + ": result count mismatch")
	}
	return results
}
