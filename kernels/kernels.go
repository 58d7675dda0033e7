// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package kernels provides the host operation library: constant
// construction, elementwise arithmetic, descriptor queries, and
// printing, registered on a cellflow handler. Kernels are consumers
// of the dispatch machinery: dispatch hands them argument artifacts
// whose handles are resolved, and the kernels themselves await the
// payloads they need, on a worker pool, never on the dispatching
// goroutine.
package kernels

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cellflow"
	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/errors"
	"github.com/grailbio/cellflow/values"
	"github.com/grailbio/cellflow/work"
)

// shardSize is the number of elements each parallel shard of an
// elementwise loop covers.
const shardSize = 4096

// Host returns a new handler named "host" with the full kernel
// library registered, running payload computation on pool.
func Host(pool *work.Pool) *cellflow.Handler {
	h := cellflow.NewHandler("host", nil)
	Register(h, pool, os.Stdout)
	return h
}

var (
	defaultOnce once.Task
	defaultHost *cellflow.Handler
)

// DefaultHost returns a shared host handler backed by a CPU-sized
// pool, built on first use.
func DefaultHost() *cellflow.Handler {
	_ = defaultOnce.Do(func() error {
		defaultHost = Host(work.NewPool(0))
		return nil
	})
	return defaultHost
}

// Register registers the kernel library on handler h. Payload
// computation runs on pool; the print kernel writes to w.
func Register(h *cellflow.Handler, pool *work.Pool, w io.Writer) {
	h.Register("const.dense", constDense)
	h.Register("const.text", constText)
	h.Register("identity", identity)
	h.Register("shape", shapeOp)
	h.Register("neg", unary(pool, "neg", func(x float64) float64 { return -x }))
	h.Register("abs", unary(pool, "abs", func(x float64) float64 {
		if x < 0 {
			return -x
		}
		return x
	}))
	h.Register("add", binary(pool, "add", func(a, b float64) float64 { return a + b }))
	h.Register("sub", binary(pool, "sub", func(a, b float64) float64 { return a - b }))
	h.Register("mul", binary(pool, "mul", func(a, b float64) float64 { return a * b }))
	h.Register("print", printer(pool, w))
}

// arity asserts a kernel's argument and result counts. Mismatches
// are dispatch-caller contract violations.
func arity(call *cellflow.Call, nargs, nresults int) {
	if len(call.Args) != nargs || len(call.Results) != nresults {
		panic(fmt.Sprintf("kernels: %s: arity mismatch: %d args, %d results",
			call.Op, len(call.Args), len(call.Results)))
	}
}

// constDense materializes a dense constant from the attribute bag:
// dtype, shape, and value (a float array, narrowed per dtype).
func constDense(ctx context.Context, call *cellflow.Call) {
	arity(call, 0, 1)
	dtype, ok := call.Attrs.Dtype("dtype")
	if !ok {
		failCall(call, errors.E(call.Op, errors.Invalid, errors.New("missing dtype attribute")))
		return
	}
	shape, ok := call.Attrs.Shape("shape")
	if !ok {
		failCall(call, errors.E(call.Op, errors.Invalid, errors.New("missing shape attribute")))
		return
	}
	vals, ok := call.Attrs.Floats("value")
	if !ok || len(vals) != shape.NumElements() {
		failCall(call, errors.E(call.Op, errors.Invalid, errors.New("value attribute does not cover shape")))
		return
	}
	d := values.NewDense(dtype, shape)
	for i, v := range vals {
		if dtype.IsFloat() {
			d.SetFloat(i, v)
		} else {
			d.SetInt(i, int64(v))
		}
	}
	call.Results[0].MakeConcrete(cellflow.FromPayload(d))
	call.Effects.Done()
}

// constText materializes a textual constant from the shape and value
// attributes.
func constText(ctx context.Context, call *cellflow.Call) {
	arity(call, 0, 1)
	shape, ok := call.Attrs.Shape("shape")
	if !ok {
		failCall(call, errors.E(call.Op, errors.Invalid, errors.New("missing shape attribute")))
		return
	}
	elems, ok := call.Attrs.Strs("value")
	if !ok || len(elems) != shape.NumElements() {
		failCall(call, errors.E(call.Op, errors.Invalid, errors.New("value attribute does not cover shape")))
		return
	}
	call.Results[0].MakeConcrete(cellflow.FromPayload(values.NewText(shape, elems...)))
	call.Effects.Done()
}

// identity passes its argument artifact through unchanged.
func identity(ctx context.Context, call *cellflow.Call) {
	arity(call, 1, 1)
	call.Results[0].MakeConcrete(call.Args[0])
	call.Effects.Done()
}

// shapeOp resolves an artifact's shape as a rank-1 i64 payload. It
// consumes only the descriptor half of its argument: when the
// descriptor is inline or already resolved the result is immediate,
// and otherwise the result resolves from the descriptor cell without
// the payload ever being awaited.
func shapeOp(ctx context.Context, call *cellflow.Call) {
	arity(call, 1, 1)
	arg := call.Args[0]
	if arg.DescriptorReady() {
		call.Results[0].MakeConcrete(cellflow.FromPayload(shapePayload(arg.Descriptor())))
		call.Effects.Done()
		return
	}
	md := arg.DescriptorFuture()
	descCell := async.New[values.Descriptor]()
	payloadCell := async.New[values.Payload]()
	call.Results[0].MakeConcrete(cellflow.NewAsync(descCell, payloadCell))
	effects := call.Effects
	md.AndThen(func() {
		if err := md.Err(); err != nil {
			descCell.SetError(err)
			payloadCell.SetError(err)
			effects.Fail(err)
			return
		}
		p := shapePayload(md.Get())
		descCell.MakeConcrete(p.Descriptor())
		payloadCell.MakeConcrete(p)
		effects.Done()
	})
}

func shapePayload(desc values.Descriptor) *values.Dense {
	d := values.NewDense(values.I64, values.Shape{int64(desc.Shape.Rank())})
	for i, dim := range desc.Shape {
		d.SetInt(i, dim)
	}
	return d
}

// printer returns the print kernel. Print is side effecting: it
// honors the call's gate, so sequenced prints appear in token order,
// and it declares no results.
func printer(pool *work.Pool, w io.Writer) cellflow.Op {
	var mu sync.Mutex
	return func(ctx context.Context, call *cellflow.Call) {
		arity(call, 1, 0)
		arg := call.Args[0]
		effects := call.Effects
		async.WhenReady([]async.Value{call.Gate, arg.Payload()}, func() {
			pool.Go(ctx, func(schedErr error) {
				if schedErr != nil {
					effects.Fail(schedErr)
					return
				}
				if err := call.Gate.Err(); err != nil {
					effects.Fail(err)
					return
				}
				if err := arg.Payload().Err(); err != nil {
					effects.Fail(err)
					return
				}
				mu.Lock()
				fmt.Fprintln(w, arg.Payload().Get())
				mu.Unlock()
				effects.Done()
			})
		})
	}
}

// unary lifts an elementwise function into a kernel. The result's
// descriptor is available as soon as the input's is; the payload is
// computed on the pool once the input payload resolves.
//
// Integer elements round-trip through float64, so lifted kernels are
// exact only for magnitudes representable in a float64 mantissa
// (|v| <= 2^53); wider i64/u64 values need a dtype-typed kernel.
func unary(pool *work.Pool, name string, f func(float64) float64) cellflow.Op {
	return func(ctx context.Context, call *cellflow.Call) {
		arity(call, 1, 1)
		arg := call.Args[0]
		payloadCell := async.New[values.Payload]()
		emitDerived(call, arg, payloadCell)
		effects := call.Effects
		run(pool, ctx, call, payloadCell, []async.Ref[values.Payload]{arg.Payload()}, func() {
			in, err := densePayload(name, arg.Payload().Get())
			if err != nil {
				payloadCell.SetError(err)
				effects.Fail(err)
				return
			}
			out := values.NewDense(in.Dtype(), in.Shape())
			mapElems(out, func(i int) {
				if in.Dtype().IsFloat() {
					out.SetFloat(i, f(in.Float(i)))
				} else {
					out.SetInt(i, int64(f(float64(in.Int(i)))))
				}
			})
			payloadCell.MakeConcrete(out)
			effects.Done()
		})
	}
}

// binary lifts an elementwise two-argument function into a kernel.
// Operand descriptors must agree; a mismatch is a compute error on
// the result, not a crash. The float64 round-trip bound documented on
// unary applies to integer operands here too.
func binary(pool *work.Pool, name string, f func(a, b float64) float64) cellflow.Op {
	return func(ctx context.Context, call *cellflow.Call) {
		arity(call, 2, 1)
		a, b := call.Args[0], call.Args[1]
		payloadCell := async.New[values.Payload]()
		emitDerived(call, a, payloadCell)
		effects := call.Effects
		run(pool, ctx, call, payloadCell, []async.Ref[values.Payload]{a.Payload(), b.Payload()}, func() {
			pa, err := densePayload(name, a.Payload().Get())
			if err != nil {
				payloadCell.SetError(err)
				effects.Fail(err)
				return
			}
			pb, err := densePayload(name, b.Payload().Get())
			if err != nil {
				payloadCell.SetError(err)
				effects.Fail(err)
				return
			}
			if !pa.Descriptor().Equal(pb.Descriptor()) {
				err := errors.E(name, errors.Invalid,
					errors.Errorf("operand mismatch: %s vs %s", pa.Descriptor(), pb.Descriptor()))
				payloadCell.SetError(err)
				effects.Fail(err)
				return
			}
			out := values.NewDense(pa.Dtype(), pa.Shape())
			mapElems(out, func(i int) {
				if pa.Dtype().IsFloat() {
					out.SetFloat(i, f(pa.Float(i), pb.Float(i)))
				} else {
					out.SetInt(i, int64(f(float64(pa.Int(i)), float64(pb.Int(i)))))
				}
			})
			payloadCell.MakeConcrete(out)
			effects.Done()
		})
	}
}

// emitDerived resolves the call's single result to an artifact whose
// descriptor mirrors the input's -- inline when the input descriptor
// is ready, forwarded otherwise -- and whose payload is payloadCell.
func emitDerived(call *cellflow.Call, in cellflow.Artifact, payloadCell *async.Cell[values.Payload]) {
	if in.DescriptorReady() {
		call.Results[0].MakeConcrete(cellflow.New(in.Descriptor(), payloadCell))
		return
	}
	descCell := async.NewIndirect[values.Descriptor]()
	descCell.Forward(in.DescriptorFuture())
	call.Results[0].MakeConcrete(cellflow.NewAsync(descCell, payloadCell))
}

// run schedules body on the pool once every input payload resolves,
// propagating upstream errors into the result payload and the effect
// signal without invoking body.
func run(pool *work.Pool, ctx context.Context, call *cellflow.Call, payloadCell *async.Cell[values.Payload], inputs []async.Ref[values.Payload], body func()) {
	waits := make([]async.Value, len(inputs))
	for i, in := range inputs {
		waits[i] = in
	}
	effects := call.Effects
	async.WhenReady(waits, func() {
		pool.Go(ctx, func(schedErr error) {
			if schedErr != nil {
				payloadCell.SetError(schedErr)
				effects.Fail(schedErr)
				return
			}
			for _, in := range inputs {
				if err := in.Err(); err != nil {
					payloadCell.SetError(err)
					effects.Fail(err)
					return
				}
			}
			body()
		})
	})
}

// densePayload narrows p to a dense payload.
func densePayload(op string, p values.Payload) (*values.Dense, error) {
	d, ok := p.(*values.Dense)
	if !ok {
		return nil, errors.E(op, errors.NotSupported,
			errors.New("payload kind "+p.Kind().String()+" not supported"))
	}
	return d, nil
}

// mapElems applies f to every element index of d, sharding across
// the pool's CPUs for large payloads.
func mapElems(d *values.Dense, f func(i int)) {
	n := d.NumElements()
	if n <= shardSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}
	nshard := (n + shardSize - 1) / shardSize
	_ = traverse.Each(nshard, func(s int) error {
		end := (s + 1) * shardSize
		if end > n {
			end = n
		}
		for i := s * shardSize; i < end; i++ {
			f(i)
		}
		return nil
	})
}

// failCall resolves every result and the effect signal to err.
func failCall(call *cellflow.Call, err error) {
	for _, r := range call.Results {
		r.SetError(err)
	}
	call.Effects.Fail(err)
}
