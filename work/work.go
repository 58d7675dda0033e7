// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package work implements the shared pool of worker contexts on
// which operation bodies run. Dispatch never blocks the goroutine
// that issues an operation; anything that must wait on data -- a
// kernel awaiting its input payloads, a conversion copying a device
// buffer -- is handed to a Pool instead.
package work

import (
	"context"
	"runtime"
	"sync"

	"github.com/grailbio/base/limiter"
)

// A WaitGroup waits for a collection of goroutines to finish, like
// sync.WaitGroup, but exposes completion as a channel so that waiting
// can be bounded by a context.
type WaitGroup struct {
	mu    sync.Mutex
	n     int
	waitc chan struct{}
}

// Add adds delta, which may be negative, to the WaitGroup counter.
// If the counter becomes zero, all goroutines blocked on C are
// released. If the counter goes negative, Add panics.
func (w *WaitGroup) Add(delta int) {
	w.mu.Lock()
	w.n += delta
	if w.n < 0 {
		panic("negative waitgroup count")
	}
	var c chan struct{}
	if w.n == 0 {
		c = w.waitc
		w.waitc = nil
	}
	w.mu.Unlock()
	if c != nil {
		close(c)
	}
}

// Done decrements the WaitGroup counter.
func (w *WaitGroup) Done() {
	w.Add(-1)
}

// C returns a channel that is closed when the waitgroup count is 0.
func (w *WaitGroup) C() <-chan struct{} {
	w.mu.Lock()
	if w.n == 0 {
		w.mu.Unlock()
		c := make(chan struct{})
		close(c)
		return c
	}
	c := w.waitc
	if c == nil {
		c = make(chan struct{})
		w.waitc = c
	}
	w.mu.Unlock()
	return c
}

// N returns the current number of waiters.
func (w *WaitGroup) N() int {
	w.mu.Lock()
	n := w.n
	w.mu.Unlock()
	return n
}

// A Pool bounds the number of concurrently running work items. Work
// items are submitted with Go, which never blocks the caller: items
// queue (as parked goroutines) until a worker slot frees up.
type Pool struct {
	lim *limiter.Limiter
	wg  WaitGroup
}

// NewPool returns a pool running at most workers items at once. If
// workers <= 0, the pool is sized to the number of CPUs.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{lim: limiter.New()}
	p.lim.Release(workers)
	return p
}

// Go submits a work item. It returns immediately; f runs on a worker
// once a slot is available and is always invoked exactly once. If
// the pool fails to schedule the item -- the context expired while
// the item was queued -- f receives the scheduling error so it can
// propagate the failure into whatever cells it was going to resolve.
func (p *Pool) Go(ctx context.Context, f func(err error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.lim.Acquire(ctx, 1); err != nil {
			f(err)
			return
		}
		defer p.lim.Release(1)
		f(nil)
	}()
}

// Wait blocks until every item submitted so far has finished, or
// until the context is done.
func (p *Pool) Wait(ctx context.Context) error {
	select {
	case <-p.wg.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
