// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func mustPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	f()
}

func TestCellResolution(t *testing.T) {
	c := New[int]()
	if c.IsResolved() || c.IsConcrete() || c.IsError() {
		t.Fatal("new cell is resolved")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("pending cell has error %v", err)
	}
	c.MakeConcrete(123)
	if !c.IsResolved() || !c.IsConcrete() || c.IsError() {
		t.Fatal("resolved cell in wrong state")
	}
	if got, want := c.Get(), 123; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	e := New[int]()
	err := errTest
	e.SetError(err)
	if !e.IsResolved() || e.IsConcrete() || !e.IsError() {
		t.Fatal("errored cell in wrong state")
	}
	if got, want := e.Err(), err; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCellResolveTwice(t *testing.T) {
	c := New[string]()
	c.MakeConcrete("x")
	mustPanic(t, "MakeConcrete", func() { c.MakeConcrete("y") })
	mustPanic(t, "SetError", func() { c.SetError(errTest) })

	e := New[string]()
	e.SetError(errTest)
	mustPanic(t, "SetError twice", func() { e.SetError(errTest) })
	mustPanic(t, "MakeConcrete after SetError", func() { e.MakeConcrete("y") })
}

func TestCellGetUnresolved(t *testing.T) {
	c := New[int]()
	mustPanic(t, "Get pending", func() { c.Get() })
	e := Errored[int](errTest)
	mustPanic(t, "Get errored", func() { e.Get() })
}

func TestAndThenOrder(t *testing.T) {
	const n = 10
	c := New[int]()
	var order []int
	for i := 0; i < n; i++ {
		i := i
		c.AndThen(func() { order = append(order, i) })
	}
	c.MakeConcrete(1)
	if got, want := len(order), n; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, o := range order {
		if o != i {
			t.Errorf("continuation %d fired at position %d", o, i)
		}
	}
}

func TestAndThenAfterResolution(t *testing.T) {
	c := Concrete("ok")
	ran := false
	c.AndThen(func() { ran = true })
	if !ran {
		t.Error("continuation did not run synchronously at registration")
	}
	e := Errored[string](errTest)
	ran = false
	e.AndThen(func() { ran = true })
	if !ran {
		t.Error("continuation did not run on errored cell")
	}
}

func TestForward(t *testing.T) {
	ind := NewIndirect[int]()
	var got []int
	ind.AndThen(func() { got = append(got, ind.Get()) })
	target := New[int]()
	ind.Forward(target)
	if ind.IsResolved() {
		t.Fatal("indirect resolved before target")
	}
	target.MakeConcrete(7)
	if !ind.IsConcrete() {
		t.Fatal("indirect did not follow target")
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("got %v, want [7]", got)
	}
}

func TestForwardError(t *testing.T) {
	ind := NewIndirect[int]()
	target := New[int]()
	ind.Forward(target)
	target.SetError(errTest)
	if got, want := ind.Err(), errTest; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestForwardTransitive(t *testing.T) {
	first := NewIndirect[string]()
	second := NewIndirect[string]()
	leaf := New[string]()
	fired := false
	first.AndThen(func() { fired = true })
	first.Forward(second)
	second.Forward(leaf)
	if fired {
		t.Fatal("continuation fired before leaf resolved")
	}
	leaf.MakeConcrete("v")
	if !fired {
		t.Fatal("continuation did not fire")
	}
	if got, want := first.Get(), "v"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestForwardMisuse(t *testing.T) {
	ind := NewIndirect[int]()
	ind.Forward(New[int]())
	mustPanic(t, "forward twice", func() { ind.Forward(New[int]()) })

	resolved := NewIndirect[int]()
	resolved.MakeConcrete(1)
	mustPanic(t, "forward resolved", func() { resolved.Forward(New[int]()) })
}

func TestToken(t *testing.T) {
	if tok := Ready(); !tok.IsConcrete() {
		t.Error("Ready token not done")
	}
	if tok := Failed(errTest); tok.Err() != errTest {
		t.Error("Failed token lost its error")
	}
	tok := NewToken()
	tok.Done()
	mustPanic(t, "Done twice", func() { tok.Done() })
}

func TestWhenReadyInline(t *testing.T) {
	ran := false
	WhenReady([]Value{Concrete(1), Concrete(2), nil}, func() { ran = true })
	if !ran {
		t.Error("WhenReady with no pending cells did not run inline")
	}
}

func TestWhenReadyDeferred(t *testing.T) {
	a, b := New[int](), New[int]()
	var n int
	WhenReady([]Value{a, Concrete(0), b}, func() { n++ })
	if n != 0 {
		t.Fatal("fired early")
	}
	a.MakeConcrete(1)
	if n != 0 {
		t.Fatal("fired before all cells resolved")
	}
	b.SetError(errTest)
	if got, want := n, 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWait(t *testing.T) {
	ctx := context.Background()
	if err := Wait(ctx, Concrete(1)); err != nil {
		t.Errorf("got %v, want nil", err)
	}
	if got, want := Wait(ctx, Errored[int](errTest)), errTest; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c := New[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.MakeConcrete(1)
	}()
	if err := Wait(ctx, c); err != nil {
		t.Errorf("got %v, want nil", err)
	}

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if got, want := Wait(timeout, New[int]()), context.DeadlineExceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConcurrentResolution(t *testing.T) {
	const n = 100
	cells := make([]*Cell[int], n)
	var (
		mu    sync.Mutex
		fired int
		wg    sync.WaitGroup
	)
	for i := range cells {
		cells[i] = New[int]()
	}
	for i, c := range cells {
		i, c := i, c
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AndThen(func() {
				mu.Lock()
				fired++
				mu.Unlock()
			})
		}()
		go func() {
			defer wg.Done()
			c.MakeConcrete(i)
		}()
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if got, want := fired, n; got != want {
		t.Errorf("got %v continuations, want %v", got, want)
	}
}
