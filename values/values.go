// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package values defines the payload representations that flow
// through cellflow. Payloads form a closed set -- dense numeric
// buffers, textual buffers, and aggregates of the two -- mirrored by
// the Kind enumeration and checked exhaustively at the boundary
// between the dispatch core and the operation layer.
package values

import (
	"crypto"
	_ "crypto/sha256" // Needed for crypto.SHA256
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/digest"
)

// Digester is the digester used to compute payload digests.
var Digester = digest.Digester(crypto.SHA256)

// Kind enumerates the closed set of payload kinds.
type Kind int

const (
	// DenseKind is a dense numeric payload.
	DenseKind Kind = 1 + iota
	// TextKind is a textual payload.
	TextKind
	// AggregateKind is a composite of other payloads.
	AggregateKind
)

func (k Kind) String() string {
	switch k {
	case DenseKind:
		return "dense"
	case TextKind:
		return "text"
	case AggregateKind:
		return "aggregate"
	}
	return "invalid"
}

// Payload is a host-accessible value produced or consumed by an
// operation. The set of implementations is closed: Dense, Text, and
// Aggregate.
type Payload interface {
	// Kind returns the payload's kind.
	Kind() Kind
	// Descriptor returns the payload's descriptor.
	Descriptor() Descriptor
	// Digest returns a digest summarizing the payload's type, shape,
	// and contents.
	Digest() digest.Digest
	fmt.Stringer

	sealed()
}

// A Dense payload is a contiguous buffer of fixed-size elements
// described by a dtype and shape, stored in little-endian byte
// order. Elements are read and written through the Int/Float
// accessors; the raw buffer is exposed for serialization and
// digests.
type Dense struct {
	dtype Dtype
	shape Shape
	buf   []byte
}

var _ Payload = (*Dense)(nil)

// NewDense returns a zero-filled dense payload of the given dtype
// and shape. NewDense panics if dtype is not a fixed-size dtype.
func NewDense(dtype Dtype, shape Shape) *Dense {
	if dtype.Size() == 0 {
		panic("values: dense payload of variable-size dtype " + dtype.String())
	}
	return &Dense{
		dtype: dtype,
		shape: shape,
		buf:   make([]byte, dtype.Size()*shape.NumElements()),
	}
}

// DenseScalar returns a rank-0 dense payload holding v, interpreted
// per dtype.
func DenseScalar(dtype Dtype, v float64) *Dense {
	d := NewDense(dtype, Shape{})
	if dtype.IsFloat() {
		d.SetFloat(0, v)
	} else {
		d.SetInt(0, int64(v))
	}
	return d
}

func (d *Dense) sealed() {}

// Kind implements Payload.
func (d *Dense) Kind() Kind { return DenseKind }

// Descriptor implements Payload.
func (d *Dense) Descriptor() Descriptor { return Descriptor{d.dtype, d.shape} }

// Dtype returns the payload's element type.
func (d *Dense) Dtype() Dtype { return d.dtype }

// Shape returns the payload's shape.
func (d *Dense) Shape() Shape { return d.shape }

// NumElements returns the number of elements in the payload.
func (d *Dense) NumElements() int { return d.shape.NumElements() }

// Bytes returns the payload's backing buffer.
func (d *Dense) Bytes() []byte { return d.buf }

// Int returns element i widened to int64. Int panics if the dtype is
// not in the bool/integer family.
func (d *Dense) Int(i int) int64 {
	off := i * d.dtype.Size()
	switch d.dtype {
	case Bool, U8:
		return int64(d.buf[off])
	case I8:
		return int64(int8(d.buf[off]))
	case I16:
		return int64(int16(binary.LittleEndian.Uint16(d.buf[off:])))
	case U16:
		return int64(binary.LittleEndian.Uint16(d.buf[off:]))
	case I32:
		return int64(int32(binary.LittleEndian.Uint32(d.buf[off:])))
	case U32:
		return int64(binary.LittleEndian.Uint32(d.buf[off:]))
	case I64, U64:
		return int64(binary.LittleEndian.Uint64(d.buf[off:]))
	}
	panic("values: Int on " + d.dtype.String() + " payload")
}

// SetInt stores v into element i, narrowed per the dtype. SetInt
// panics if the dtype is not in the bool/integer family.
func (d *Dense) SetInt(i int, v int64) {
	off := i * d.dtype.Size()
	switch d.dtype {
	case Bool, I8, U8:
		d.buf[off] = byte(v)
	case I16, U16:
		binary.LittleEndian.PutUint16(d.buf[off:], uint16(v))
	case I32, U32:
		binary.LittleEndian.PutUint32(d.buf[off:], uint32(v))
	case I64, U64:
		binary.LittleEndian.PutUint64(d.buf[off:], uint64(v))
	default:
		panic("values: SetInt on " + d.dtype.String() + " payload")
	}
}

// Float returns element i widened to float64. Float panics if the
// dtype is not a floating point dtype.
func (d *Dense) Float(i int) float64 {
	off := i * d.dtype.Size()
	switch d.dtype {
	case F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(d.buf[off:])))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(d.buf[off:]))
	}
	panic("values: Float on " + d.dtype.String() + " payload")
}

// SetFloat stores v into element i. SetFloat panics if the dtype is
// not a floating point dtype.
func (d *Dense) SetFloat(i int, v float64) {
	off := i * d.dtype.Size()
	switch d.dtype {
	case F32:
		binary.LittleEndian.PutUint32(d.buf[off:], math.Float32bits(float32(v)))
	case F64:
		binary.LittleEndian.PutUint64(d.buf[off:], math.Float64bits(v))
	default:
		panic("values: SetFloat on " + d.dtype.String() + " payload")
	}
}

// Digest implements Payload.
func (d *Dense) Digest() digest.Digest {
	w := Digester.NewWriter()
	writeDescriptor(w, d.Descriptor())
	w.Write(d.buf)
	return w.Digest()
}

func (d *Dense) String() string {
	return fmt.Sprintf("dense %s (%s)", d.Descriptor(), data.Size(len(d.buf)))
}

// A Text payload holds variable-length string elements.
type Text struct {
	shape Shape
	elems []string
}

var _ Payload = (*Text)(nil)

// NewText returns a textual payload of the given shape holding
// elems. NewText panics unless len(elems) matches the shape's
// element count.
func NewText(shape Shape, elems ...string) *Text {
	if len(elems) != shape.NumElements() {
		panic(fmt.Sprintf("values: %d elements for shape %s", len(elems), shape))
	}
	return &Text{shape: shape, elems: elems}
}

func (t *Text) sealed() {}

// Kind implements Payload.
func (t *Text) Kind() Kind { return TextKind }

// Descriptor implements Payload.
func (t *Text) Descriptor() Descriptor { return Descriptor{String, t.shape} }

// Shape returns the payload's shape.
func (t *Text) Shape() Shape { return t.shape }

// Elem returns string element i.
func (t *Text) Elem(i int) string { return t.elems[i] }

// Strings returns the payload's elements.
func (t *Text) Strings() []string { return t.elems }

// Digest implements Payload.
func (t *Text) Digest() digest.Digest {
	w := Digester.NewWriter()
	writeDescriptor(w, t.Descriptor())
	for _, s := range t.elems {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(len(s)))
		w.Write(b[:])
		io.WriteString(w, s)
	}
	return w.Digest()
}

func (t *Text) String() string {
	var n int
	for _, s := range t.elems {
		n += len(s)
	}
	return fmt.Sprintf("text str[%s] (%s)", t.shape, data.Size(n))
}

// An Aggregate payload is an ordered composite of other payloads.
type Aggregate []Payload

var _ Payload = (Aggregate)(nil)

func (a Aggregate) sealed() {}

// Kind implements Payload.
func (a Aggregate) Kind() Kind { return AggregateKind }

// Descriptor implements Payload. An aggregate's descriptor is an
// invalid dtype with a rank-1 shape counting its members.
func (a Aggregate) Descriptor() Descriptor {
	return Descriptor{Invalid, Shape{int64(len(a))}}
}

// Digest implements Payload.
func (a Aggregate) Digest() digest.Digest {
	w := Digester.NewWriter()
	for _, p := range a {
		d := p.Digest()
		digest.WriteDigest(w, d)
	}
	return w.Digest()
}

func (a Aggregate) String() string {
	elems := make([]string, len(a))
	for i, p := range a {
		elems[i] = p.String()
	}
	return "aggregate(" + strings.Join(elems, ", ") + ")"
}

func writeDescriptor(w io.Writer, d Descriptor) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(d.Dtype))
	w.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(len(d.Shape)))
	w.Write(b[:])
	for _, dim := range d.Shape {
		binary.LittleEndian.PutUint64(b[:], uint64(dim))
		w.Write(b[:])
	}
}

// Truth evaluates the branch predicate for a condition payload p:
// for a dense payload in the bool/integer family, truth is "the
// single element is nonzero"; for a textual payload, truth is "the
// first element exists and is a non-empty string".
//
// The condition contract is enforced here rather than silently
// narrowed: a dense condition must hold exactly one element and its
// dtype must be in the bool/integer family, and aggregates are not
// conditions. Violations panic.
func Truth(p Payload) bool {
	switch p := p.(type) {
	case *Dense:
		if n := p.NumElements(); n != 1 {
			panic(fmt.Sprintf("values: condition payload has %d elements, need exactly 1", n))
		}
		if !p.Dtype().IsInt() {
			panic("values: condition dtype " + p.Dtype().String() + " not supported")
		}
		return p.Int(0) != 0
	case *Text:
		// Only a missing or empty string is false.
		return len(p.elems) > 0 && p.elems[0] != ""
	default:
		panic("values: payload kind " + p.Kind().String() + " not supported as a condition")
	}
}
