// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dispatch_test

import (
	"context"
	"testing"

	"github.com/grailbio/cellflow"
	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/values"
)

// constBranch returns a one-argument branch producing a tagged scalar
// and flagging its invocation.
func constBranch(name string, v float64, ran *bool) *cellflow.Fn {
	return &cellflow.Fn{
		Name: name, NArgs: 1, NResults: 1,
		Body: func(ctx context.Context, args []async.Ref[cellflow.Artifact]) []async.Ref[cellflow.Artifact] {
			*ran = true
			a := cellflow.FromPayload(values.DenseScalar(values.I64, v))
			return []async.Ref[cellflow.Artifact]{async.Concrete(a)}
		},
	}
}

func condArgs(p values.Payload) []async.Ref[cellflow.Artifact] {
	return []async.Ref[cellflow.Artifact]{
		async.Concrete(cellflow.FromPayload(p)),
		async.Concrete(cellflow.FromPayload(values.DenseScalar(values.I64, 0))),
	}
}

func TestCond(t *testing.T) {
	for _, c := range []struct {
		name string
		pred values.Payload
		want bool
	}{
		{"dense zero", values.DenseScalar(values.I32, 0), false},
		{"dense nonzero", values.DenseScalar(values.I32, 1), true},
		{"bool true", values.DenseScalar(values.Bool, 1), true},
		{"text empty", values.NewText(values.Shape{}, ""), false},
		{"text nonempty", values.NewText(values.Shape{}, "go"), true},
	} {
		d, _ := testDispatcher(t)
		var ranTrue, ranFalse bool
		results := d.Cond(context.Background(),
			constBranch("yes", 1, &ranTrue),
			constBranch("no", 2, &ranFalse),
			condArgs(c.pred), 1)
		if got := ranTrue; got != c.want {
			t.Errorf("%s: true branch ran %v, want %v", c.name, got, c.want)
		}
		if got := ranFalse; got == c.want {
			t.Errorf("%s: false branch ran %v, want %v", c.name, got, !c.want)
		}
		want := 2.0
		if c.want {
			want = 1.0
		}
		if got := results[0].Get().Payload().Get().(*values.Dense).Int(0); got != int64(want) {
			t.Errorf("%s: got %v, want %v", c.name, got, want)
		}
	}
}

func TestCondPendingHandle(t *testing.T) {
	d, _ := testDispatcher(t)
	var ranTrue, ranFalse bool
	cond := async.New[cellflow.Artifact]()
	args := []async.Ref[cellflow.Artifact]{
		cond,
		async.Concrete(cellflow.FromPayload(values.DenseScalar(values.I64, 0))),
	}
	results := d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		args, 1)
	if ranTrue || ranFalse {
		t.Fatal("branch ran before condition resolved")
	}
	if results[0].IsResolved() {
		t.Fatal("result resolved before condition")
	}
	cond.MakeConcrete(cellflow.FromPayload(values.DenseScalar(values.I32, 1)))
	if !ranTrue || ranFalse {
		t.Fatal("wrong branch after condition resolved")
	}
	if !results[0].IsConcrete() {
		t.Fatal("result did not resolve")
	}
}

func TestCondPendingPayload(t *testing.T) {
	d, _ := testDispatcher(t)
	var ranTrue, ranFalse bool
	payload := async.New[values.Payload]()
	condArt := cellflow.New(values.Descriptor{Dtype: values.I32, Shape: values.Shape{}}, payload)
	args := []async.Ref[cellflow.Artifact]{
		async.Concrete(condArt),
		async.Concrete(cellflow.FromPayload(values.DenseScalar(values.I64, 0))),
	}
	d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		args, 1)
	if ranTrue || ranFalse {
		t.Fatal("branch ran before condition payload resolved")
	}
	payload.MakeConcrete(values.DenseScalar(values.I32, 0))
	if ranTrue || !ranFalse {
		t.Fatal("wrong branch after payload resolved")
	}
}

func TestCondHandleError(t *testing.T) {
	d, _ := testDispatcher(t)
	var ranTrue, ranFalse bool
	args := []async.Ref[cellflow.Artifact]{
		async.Errored[cellflow.Artifact](errBoom),
		async.Concrete(cellflow.FromPayload(values.DenseScalar(values.I64, 0))),
	}
	results := d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		args, 1)
	if got, want := results[0].Err(), errBoom; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if ranTrue || ranFalse {
		t.Error("a branch ran despite condition error")
	}
}

func TestCondPayloadError(t *testing.T) {
	d, _ := testDispatcher(t)
	var ranTrue, ranFalse bool
	condArt := cellflow.New(
		values.Descriptor{Dtype: values.I32, Shape: values.Shape{}},
		async.Errored[values.Payload](errBoom))
	args := []async.Ref[cellflow.Artifact]{
		async.Concrete(condArt),
		async.Concrete(cellflow.FromPayload(values.DenseScalar(values.I64, 0))),
	}
	results := d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		args, 1)
	if got, want := results[0].Err(), errBoom; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if ranTrue || ranFalse {
		t.Error("a branch ran despite payload error")
	}
}

// errConverter fails every conversion.
type errConverter struct{ err error }

func (c errConverter) ToHost(ctx context.Context, p values.Payload, allowed ...values.Kind) async.Ref[values.Payload] {
	return async.Errored[values.Payload](c.err)
}

func TestCondConverterError(t *testing.T) {
	d, _ := testDispatcher(t)
	d.Converter = errConverter{errBoom}
	var ranTrue, ranFalse bool
	results := d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		condArgs(values.DenseScalar(values.I32, 1)), 1)
	if got, want := results[0].Err(), errBoom; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if ranTrue || ranFalse {
		t.Error("a branch ran despite conversion error")
	}
}

func TestCondArityPanic(t *testing.T) {
	d, _ := testDispatcher(t)
	var ran bool
	twoArg := &cellflow.Fn{
		Name: "two", NArgs: 2, NResults: 1,
		Body: func(ctx context.Context, args []async.Ref[cellflow.Artifact]) []async.Ref[cellflow.Artifact] {
			return args[:1]
		},
	}
	defer func() {
		if recover() == nil {
			t.Error("branch arity mismatch did not panic")
		}
	}()
	d.Cond(context.Background(), twoArg, constBranch("no", 2, &ran),
		condArgs(values.DenseScalar(values.I32, 1)), 1)
}

func TestCondBadCondition(t *testing.T) {
	d, _ := testDispatcher(t)
	var ranTrue, ranFalse bool
	defer func() {
		if recover() == nil {
			t.Error("multi-element condition did not panic")
		}
		if ranTrue || ranFalse {
			t.Error("a branch ran despite bad condition")
		}
	}()
	d.Cond(context.Background(),
		constBranch("yes", 1, &ranTrue),
		constBranch("no", 2, &ranFalse),
		condArgs(values.NewDense(values.I32, values.Shape{2})), 1)
}
