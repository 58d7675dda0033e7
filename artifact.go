// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cellflow

import (
	"fmt"

	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/values"
)

// An Artifact is the handle to an operation result: a pair of
// independently resolving halves, a lightweight descriptor
// (dtype and shape) and the heavyweight payload itself. Consumers
// that need only the descriptor -- for example to plan the next
// operation in a pipeline -- need not wait for the payload.
//
// The descriptor is stored either inline, when it is known at
// construction, or as a future cell, when it is computed later.
// Exactly one of the two representations is active, selected at
// construction and fixed for the artifact's lifetime. The payload
// cell is never nil.
//
// Artifacts are small values and are copied freely; the halves they
// point to are shared.
type Artifact struct {
	desc    *values.Descriptor
	descRef async.Ref[values.Descriptor]
	payload async.Ref[values.Payload]
	origin  string
}

// New returns an artifact whose descriptor is known now (the fast
// path) and whose payload will resolve later. New panics if payload
// is nil.
func New(desc values.Descriptor, payload async.Ref[values.Payload]) Artifact {
	if payload == nil {
		panic("cellflow: artifact with nil payload cell")
	}
	return Artifact{desc: &desc, payload: payload}
}

// NewAsync returns an artifact both of whose halves resolve later
// (the slow path). NewAsync panics if either cell is nil.
func NewAsync(desc async.Ref[values.Descriptor], payload async.Ref[values.Payload]) Artifact {
	if desc == nil || payload == nil {
		panic("cellflow: artifact with nil cell")
	}
	return Artifact{descRef: desc, payload: payload}
}

// FromPayload returns an artifact for an already-computed payload:
// the descriptor is stored inline and the payload cell is already
// concrete.
func FromPayload(p values.Payload) Artifact {
	return New(p.Descriptor(), async.Concrete(p))
}

// Errored returns an artifact both of whose halves carry error err.
func Errored(err error) Artifact {
	return Artifact{
		descRef: async.Errored[values.Descriptor](err),
		payload: async.Errored[values.Payload](err),
	}
}

// WithOrigin returns a copy of the artifact tagged with the given
// origin (a device or owner name, used for logging and routing).
func (a Artifact) WithOrigin(origin string) Artifact {
	a.origin = origin
	return a
}

// Origin returns the artifact's origin tag, which may be empty.
func (a Artifact) Origin() string { return a.origin }

// DescriptorReady tells, without blocking, whether the artifact's
// descriptor is available now.
func (a Artifact) DescriptorReady() bool {
	if a.desc != nil {
		return true
	}
	return a.descRef.IsConcrete()
}

// Descriptor returns the artifact's descriptor. It panics unless
// DescriptorReady.
func (a Artifact) Descriptor() values.Descriptor {
	if a.desc != nil {
		return *a.desc
	}
	return a.descRef.Get()
}

// DescriptorFuture returns a cell for the artifact's descriptor.
// For an inline descriptor this wraps the value in an
// already-concrete cell.
func (a Artifact) DescriptorFuture() async.Ref[values.Descriptor] {
	if a.desc != nil {
		return async.Concrete(*a.desc)
	}
	return a.descRef
}

// Payload returns the cell to await for the artifact's full result.
func (a Artifact) Payload() async.Ref[values.Payload] {
	return a.payload
}

// String renders the artifact's resolution state.
func (a Artifact) String() string {
	if a.payload == nil {
		return "invalid artifact"
	}
	if a.payload.IsConcrete() {
		return a.payload.Get().String()
	}
	if err := a.payload.Err(); err != nil {
		return fmt.Sprintf("error artifact: %v", err)
	}
	switch {
	case a.DescriptorReady():
		return fmt.Sprintf("unresolved artifact with descriptor %s", a.Descriptor())
	case a.descRef.IsError():
		return fmt.Sprintf("unresolved artifact with error descriptor: %v", a.descRef.Err())
	default:
		return "unresolved artifact with unresolved descriptor"
	}
}
