// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package async

// An Indirect is a cell whose eventual state may be delegated to
// another cell. Indirect cells are handed to consumers before the
// producing computation is known; once the producer exists, Forward
// binds the indirect cell to the producer's cell, and resolution of
// the producer transitively resolves the indirect cell.
//
// An Indirect may also be resolved directly with MakeConcrete or
// SetError, which the dispatcher uses to propagate upstream errors
// into result cells without a producer ever existing.
type Indirect[T any] struct {
	Cell[T]
	fwd bool
}

var _ Ref[int] = (*Indirect[int])(nil)

// NewIndirect returns a new, pending indirect cell.
func NewIndirect[T any]() *Indirect[T] {
	return new(Indirect[T])
}

// Forward delegates the cell's eventual state to target: when target
// resolves, the indirect cell resolves to the same value or error,
// and continuations registered on the indirect cell fire at that
// point. Forwarding may be established at most once, and only while
// the cell is still pending; violating either panics. Forwarding is
// transitive: target may itself be an unforwarded Indirect.
func (i *Indirect[T]) Forward(target Ref[T]) {
	i.mu.Lock()
	if i.state != pending {
		i.mu.Unlock()
		panic("async: Forward on resolved cell")
	}
	if i.fwd {
		i.mu.Unlock()
		panic("async: cell forwarded twice")
	}
	i.fwd = true
	i.mu.Unlock()
	target.AndThen(func() {
		if err := target.Err(); err != nil {
			i.SetError(err)
		} else {
			i.MakeConcrete(target.Get())
		}
	})
}
