// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package async

import (
	"context"
	"sync/atomic"
)

// WhenReady runs f once every cell in values has resolved. If none
// are pending, f runs synchronously before WhenReady returns;
// otherwise f runs on the goroutine that resolves the last pending
// cell. Nil entries in values are ignored. WhenReady does not
// distinguish values from errors; f inspects the cells itself.
func WhenReady(values []Value, f func()) {
	var pend []Value
	for _, v := range values {
		if v != nil && !v.IsResolved() {
			pend = append(pend, v)
		}
	}
	if len(pend) == 0 {
		f()
		return
	}
	// A cell may resolve between the scan above and registration
	// below; the continuation then runs inline and the count still
	// reaches zero exactly once.
	n := int32(len(pend))
	for _, v := range pend {
		v.AndThen(func() {
			if atomic.AddInt32(&n, -1) == 0 {
				f()
			}
		})
	}
}

// Wait blocks until v resolves or the context is done. It returns
// the cell's error if v resolved to an error, nil if it resolved to
// a value, and the context's error if the context expired first.
// Wait is an adapter for code outside the dispatch path (drivers,
// tests); dispatch itself never blocks on a cell.
func Wait(ctx context.Context, v Value) error {
	if v.IsResolved() {
		return v.Err()
	}
	done := make(chan struct{})
	v.AndThen(func() { close(done) })
	select {
	case <-done:
		return v.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
