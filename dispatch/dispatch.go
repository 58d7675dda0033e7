// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dispatch implements cellflow's operation-dispatch
// protocol: given an operation identifier, a handler, and a set of
// argument artifact cells, a Dispatcher determines whether execution
// can proceed immediately or must be deferred until every pending
// argument resolves. Callers always receive their result cells
// synchronously, before anything about the arguments is known, and
// the issuing goroutine never blocks.
//
// Dispatch comes in two variants. Unsequenced dispatch (Execute) has
// no ordering dependency on prior side effects. Sequenced dispatch
// (ExecuteSeq) threads a completion token from operation to
// operation: the outgoing token resolves only after the incoming
// token has resolved and the operation's side effects, including all
// result writes, are visible. Chaining tokens gives a total order
// over otherwise data-independent operations.
package dispatch

import (
	"context"

	"github.com/grailbio/cellflow"
	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/log"
)

// A Dispatcher issues operations against handlers from its registry.
// The zero Dispatcher is not useful; a Registry is required. Log may
// be nil.
type Dispatcher struct {
	// Registry names the handlers available to this dispatcher.
	Registry *cellflow.Registry
	// Converter renders condition payloads host-accessible for Cond.
	// If nil, the identity HostConverter is used.
	Converter cellflow.Converter
	// Log receives debug output. A nil Log is silent.
	Log *log.Logger
}

// Execute dispatches operation op on handler h with the given
// argument cells and attributes, declaring nout results. The result
// cells are returned immediately; each resolves once the operation
// produces it (or fails). Execution is deferred until every argument
// handle has resolved; an error on any argument short-circuits the
// dispatch, copying the first error observed into every result.
func (d *Dispatcher) Execute(ctx context.Context, h *cellflow.Handler, op string, args []async.Ref[cellflow.Artifact], attrs cellflow.Attrs, nout int) []*async.Indirect[cellflow.Artifact] {
	results, _ := d.execute(ctx, h, op, args, attrs, nout, async.Ready(), nil)
	return results
}

// ExecuteSeq dispatches operation op like Execute, additionally
// threading completion tokens: execution is gated on the incoming
// token in, and the returned outgoing token resolves only after the
// operation's full side effects, including all result writes, are
// visible. An error on any argument is copied into the outgoing token
// and into every result, and the operation does not run; an error on
// in likewise short-circuits when observed before the operation runs,
// and otherwise reaches the outgoing token and the operation's gate.
// A nil in is treated as an already-done token, starting a new chain.
func (d *Dispatcher) ExecuteSeq(ctx context.Context, h *cellflow.Handler, op string, args []async.Ref[cellflow.Artifact], attrs cellflow.Attrs, nout int, in *async.Token) ([]*async.Indirect[cellflow.Artifact], *async.Token) {
	out := async.NewToken()
	results, _ := d.execute(ctx, h, op, args, attrs, nout, in, out)
	return results, out
}

// execute implements both dispatch variants. Results are
// pre-allocated before anything else so that callers receive handles
// synchronously regardless of readiness; out may be nil
// (unsequenced).
func (d *Dispatcher) execute(ctx context.Context, h *cellflow.Handler, op string, args []async.Ref[cellflow.Artifact], attrs cellflow.Attrs, nout int, in *async.Token, out *async.Token) ([]*async.Indirect[cellflow.Artifact], *async.Token) {
	if in == nil {
		in = async.Ready()
	}
	results := make([]*async.Indirect[cellflow.Artifact], nout)
	for i := range results {
		results[i] = async.NewIndirect[cellflow.Artifact]()
	}
	fail := func(err error) {
		// First error wins: the same error reaches every declared
		// output and, when sequencing was requested, the outgoing
		// token. No side effect of the operation happens.
		if out != nil {
			out.Fail(err)
		}
		for _, r := range results {
			r.SetError(err)
		}
	}

	impl, err := h.Lookup(op)
	if err != nil {
		d.Log.Debugf("dispatch %s %s: %v", h.Name(), op, err)
		fail(err)
		return results, out
	}

	// Collect the arguments that have not yet produced a concrete
	// handle. The incoming token is deliberately not among them: it
	// gates the operation's effects, not its dispatch.
	var pend []async.Value
	for _, arg := range args {
		if !arg.IsConcrete() {
			pend = append(pend, arg)
		}
	}
	if len(pend) == 0 {
		if in.IsError() {
			fail(in.Err())
			return results, out
		}
		d.run(ctx, impl, op, args, attrs, results, in, out)
		return results, out
	}
	async.WhenReady(pend, func() {
		if in.IsError() {
			fail(in.Err())
			return
		}
		for _, arg := range args {
			if err := arg.Err(); err != nil {
				fail(err)
				return
			}
		}
		d.run(ctx, impl, op, args, attrs, results, in, out)
	})
	return results, out
}

// run invokes the operation implementation. All argument handles are
// concrete here; payloads may still be pending and belong to the
// implementation. The outgoing token, if any, resolves from the
// operation's effect-completion signal.
func (d *Dispatcher) run(ctx context.Context, impl cellflow.Op, op string, args []async.Ref[cellflow.Artifact], attrs cellflow.Attrs, results []*async.Indirect[cellflow.Artifact], in *async.Token, out *async.Token) {
	call := &cellflow.Call{
		Op:      op,
		Args:    make([]cellflow.Artifact, len(args)),
		Attrs:   attrs,
		Results: results,
		Gate:    in,
		Effects: async.NewToken(),
	}
	for i, arg := range args {
		call.Args[i] = arg.Get()
	}
	if d.Log.At(log.DebugLevel) {
		d.Log.Debugf("dispatch %s %s nresult %d", op, attrs, len(results))
	}
	impl(ctx, call)
	if out != nil {
		// The outgoing token resolves strictly after both the
		// incoming token and the operation's effect signal, so token
		// chains order even operations that ignore their gate.
		effects := call.Effects
		async.WhenReady([]async.Value{in, effects}, func() {
			if err := in.Err(); err != nil {
				out.Fail(err)
			} else if err := effects.Err(); err != nil {
				out.Fail(err)
			} else {
				out.Done()
			}
		})
	}
}
