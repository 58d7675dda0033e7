// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"

	"github.com/grailbio/cellflow"
	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/values"
)

// condState tracks the conditional's progress toward branch
// selection. Each waypoint suspends on one cell; an error observed
// at any waypoint is forwarded into every result and the machine
// stops without running either branch.
type condState int

const (
	// condWaitHandle awaits the condition's artifact handle.
	condWaitHandle condState = iota
	// condWaitPayload awaits the condition's payload.
	condWaitPayload
	// condMaterialize awaits conversion of the payload into a
	// canonical host-accessible representation.
	condMaterialize
	// condDispatch evaluates the predicate and runs the chosen
	// branch.
	condDispatch
)

var condStateStrings = map[condState]string{
	condWaitHandle:  "waithandle",
	condWaitPayload: "waitpayload",
	condMaterialize: "materialize",
	condDispatch:    "dispatch",
}

func (s condState) String() string { return condStateStrings[s] }

// Cond dispatches to branch onTrue or onFalse based on a condition.
// The first argument is the condition; the remaining arguments are
// passed to the selected branch. The branches must agree with each
// other and with the call on argument and result arity; a mismatch
// panics (a caller contract violation).
//
// Cond is non-strict: it is safe to invoke before the condition or
// any other argument is ready, and it never blocks the issuing
// goroutine. Result cells for the chosen branch's outputs are
// returned immediately.
//
// Predicate evaluation follows the payload's kind: a dense payload
// must hold exactly one bool/integer element, which is true when
// nonzero; a textual payload is true when its first element exists
// and is non-empty. Other payload kinds are not supported as
// conditions.
func (d *Dispatcher) Cond(ctx context.Context, onTrue, onFalse *cellflow.Fn, args []async.Ref[cellflow.Artifact], nout int) []*async.Indirect[cellflow.Artifact] {
	if len(args) < 1 {
		panic("dispatch: cond requires a condition argument")
	}
	if onTrue.NArgs != len(args)-1 || onFalse.NArgs != len(args)-1 {
		panic("dispatch: cond branch argument count mismatch")
	}
	if onTrue.NResults != nout || onFalse.NResults != nout {
		panic("dispatch: cond branch result count mismatch")
	}
	results := make([]*async.Indirect[cellflow.Artifact], nout)
	for i := range results {
		results[i] = async.NewIndirect[cellflow.Artifact]()
	}
	c := &cond{
		d:       d,
		ctx:     ctx,
		onTrue:  onTrue,
		onFalse: onFalse,
		args:    args,
		results: results,
	}
	c.step()
	return results
}

// A cond is the four-waypoint state machine behind Cond. The
// condition's availability is unknown throughout; each step
// registers a continuation on the cell the current waypoint needs
// and returns, so the machine advances on whatever goroutine
// resolves that cell.
type cond struct {
	d        *Dispatcher
	ctx      context.Context
	onTrue   *cellflow.Fn
	onFalse  *cellflow.Fn
	args     []async.Ref[cellflow.Artifact]
	results  []*async.Indirect[cellflow.Artifact]
	state    condState
	artifact cellflow.Artifact
	payload  async.Ref[values.Payload]
	host     async.Ref[values.Payload]
}

// step suspends the machine on the current waypoint's cell.
func (c *cond) step() {
	switch c.state {
	case condWaitHandle:
		cell := c.args[0]
		cell.AndThen(func() { c.advance(cell) })
	case condWaitPayload:
		cell := c.payload
		cell.AndThen(func() { c.advance(cell) })
	case condMaterialize:
		conv := c.d.Converter
		if conv == nil {
			conv = cellflow.HostConverter{}
		}
		c.host = conv.ToHost(c.ctx, c.payload.Get(), values.DenseKind, values.TextKind)
		cell := c.host
		cell.AndThen(func() { c.advance(cell) })
	case condDispatch:
		c.dispatch()
	}
}

// advance consumes the resolution of the cell the current waypoint
// waited on, forwarding an error into every result and stopping, or
// moving to the next waypoint.
func (c *cond) advance(cell async.Value) {
	if err := cell.Err(); err != nil {
		c.d.Log.Debugf("cond %s: %v", c.state, err)
		c.fail(err)
		return
	}
	switch c.state {
	case condWaitHandle:
		c.artifact = c.args[0].Get()
		c.payload = c.artifact.Payload()
		c.state = condWaitPayload
	case condWaitPayload:
		c.state = condMaterialize
	case condMaterialize:
		c.state = condDispatch
	}
	c.step()
}

// dispatch evaluates the predicate and executes exactly the chosen
// branch, forwarding its results into the pre-allocated result
// cells. Neither branch has run before this point.
func (c *cond) dispatch() {
	pred := values.Truth(c.host.Get())
	fn := c.onFalse
	if pred {
		fn = c.onTrue
	}
	c.d.Log.Debugf("cond %s: branch %s", c.state, fn.Name)
	branch := fn.Call(c.ctx, c.args[1:])
	for i, r := range branch {
		c.results[i].Forward(r)
	}
}

// fail forwards err into every result. No branch runs.
func (c *cond) fail(err error) {
	for _, r := range c.results {
		r.SetError(err)
	}
}
