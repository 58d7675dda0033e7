// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package async implements the single-assignment future cells that
// underlie cellflow's dataflow execution. A Cell starts out pending
// and resolves exactly once, to either a concrete value or an error;
// continuations registered on a cell run when it resolves, on
// whatever goroutine performs the resolving call. Cells have no
// thread affinity and no dedicated callback runner: registering a
// continuation and returning immediately is how computation
// "suspends" in cellflow.
//
// Cells are shared freely between holders; the Go runtime supplies
// shared ownership, so unlike refcounted future implementations
// there is no retain/release discipline to maintain. The one
// discipline that remains is single-producer resolution: a cell is
// written by exactly one producer, and resolving a cell twice is a
// programming error that panics.
package async

import "sync"

type resolution int

const (
	pending resolution = iota
	concrete
	errored
)

// Value is the untyped view of a cell, used where heterogeneous
// collections of cells are handled together (argument lists,
// readiness tracking). All of its methods are safe to call at any
// time and never block.
type Value interface {
	// AndThen registers continuation f on the cell. If the cell is
	// already resolved, f runs synchronously before AndThen returns;
	// otherwise f runs exactly once at resolution time, on the
	// resolving goroutine. Continuations fire in registration order.
	AndThen(f func())
	// IsResolved tells whether the cell has resolved.
	IsResolved() bool
	// IsConcrete tells whether the cell resolved to a value.
	IsConcrete() bool
	// IsError tells whether the cell resolved to an error.
	IsError() bool
	// Err returns the cell's error, or nil if the cell is pending or
	// resolved to a value.
	Err() error
}

// Ref is the typed view of a cell holding a T.
type Ref[T any] interface {
	Value
	// Get returns the cell's value. Get panics unless the cell is
	// concrete.
	Get() T
}

// A Cell is a single-assignment container for a value of type T that
// may not yet be available. The zero value of Cell is a pending cell.
type Cell[T any] struct {
	mu      sync.Mutex
	state   resolution
	value   T
	err     error
	waiters []func()
}

var _ Ref[int] = (*Cell[int])(nil)

// New returns a new, pending cell.
func New[T any]() *Cell[T] {
	return new(Cell[T])
}

// Concrete returns a cell that is already resolved to value v.
func Concrete[T any](v T) *Cell[T] {
	return &Cell[T]{state: concrete, value: v}
}

// Errored returns a cell that is already resolved to error err.
func Errored[T any](err error) *Cell[T] {
	if err == nil {
		panic("async: Errored called with nil error")
	}
	return &Cell[T]{state: errored, err: err}
}

// MakeConcrete resolves a pending cell to value v and runs its
// registered continuations in registration order. MakeConcrete
// panics if the cell has already resolved.
func (c *Cell[T]) MakeConcrete(v T) {
	c.mu.Lock()
	if c.state != pending {
		c.mu.Unlock()
		panic("async: cell resolved twice")
	}
	c.value = v
	c.state = concrete
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, f := range waiters {
		f()
	}
}

// SetError resolves a pending cell to error err and runs its
// registered continuations in registration order. SetError panics if
// the cell has already resolved or if err is nil.
func (c *Cell[T]) SetError(err error) {
	if err == nil {
		panic("async: SetError called with nil error")
	}
	c.mu.Lock()
	if c.state != pending {
		c.mu.Unlock()
		panic("async: cell resolved twice")
	}
	c.err = err
	c.state = errored
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, f := range waiters {
		f()
	}
}

// AndThen implements Value.
func (c *Cell[T]) AndThen(f func()) {
	c.mu.Lock()
	if c.state == pending {
		c.waiters = append(c.waiters, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	f()
}

// IsResolved implements Value.
func (c *Cell[T]) IsResolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != pending
}

// IsConcrete implements Value.
func (c *Cell[T]) IsConcrete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == concrete
}

// IsError implements Value.
func (c *Cell[T]) IsError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == errored
}

// Err implements Value.
func (c *Cell[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Get returns the cell's value. Get panics unless the cell is
// concrete: producers resolve before consumers read, a discipline
// enforced by the dispatcher's readiness tracking.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != concrete {
		panic("async: Get on cell without a concrete value")
	}
	return c.value
}
