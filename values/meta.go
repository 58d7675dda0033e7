// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package values

import (
	"fmt"
	"strings"
)

// Dtype is the element type of a payload. Dtypes form a closed set;
// operations that encounter a dtype outside the set they handle
// treat it as a caller contract violation.
type Dtype int

const (
	// Invalid is the zero Dtype and denotes an uninitialized dtype.
	Invalid Dtype = iota
	// Bool is a one-byte boolean.
	Bool
	// I8 through I64 are signed integers.
	I8
	I16
	I32
	I64
	// U8 through U64 are unsigned integers.
	U8
	U16
	U32
	U64
	// F32 and F64 are IEEE floating point.
	F32
	F64
	// String is a variable-length textual element.
	String

	maxDtype
)

var dtypeStrings = [maxDtype]string{
	Invalid: "invalid",
	Bool:    "bool",
	I8:      "i8",
	I16:     "i16",
	I32:     "i32",
	I64:     "i64",
	U8:      "u8",
	U16:     "u16",
	U32:     "u32",
	U64:     "u64",
	F32:     "f32",
	F64:     "f64",
	String:  "str",
}

func (d Dtype) String() string {
	if d < 0 || d >= maxDtype {
		return "invalid"
	}
	return dtypeStrings[d]
}

// Size returns the element size of dtype d in bytes. Size is zero
// for String, whose elements are variable length.
func (d Dtype) Size() int {
	switch d {
	case Bool, I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	default:
		return 0
	}
}

// IsInt tells whether d belongs to the bool/integer family.
func (d Dtype) IsInt() bool {
	switch d {
	case Bool, I8, I16, I32, I64, U8, U16, U32, U64:
		return true
	}
	return false
}

// IsFloat tells whether d is a floating point dtype.
func (d Dtype) IsFloat() bool {
	return d == F32 || d == F64
}

// A Shape denotes the number of dimensions of a dense payload and a
// size for each dimension. A rank-0 shape is a scalar. Shapes are
// value types; they are never mutated after construction.
type Shape []int64

// NumElements returns the total number of elements a payload of
// shape s holds.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= int(d)
	}
	return n
}

// Rank returns the number of dimensions of s.
func (s Shape) Rank() int { return len(s) }

// Equal tells whether shapes s and t are identical.
func (s Shape) Equal(t Shape) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		if s[i] != t[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	if len(s) == 0 {
		return "scalar"
	}
	dims := make([]string, len(s))
	for i, d := range s {
		dims[i] = fmt.Sprint(d)
	}
	return strings.Join(dims, "x")
}

// A Descriptor is the lightweight half of an artifact: the dtype and
// shape of its payload, which is often known well before the payload
// itself has been computed.
type Descriptor struct {
	Dtype Dtype
	Shape Shape
}

// Equal tells whether descriptors d and e are identical.
func (d Descriptor) Equal(e Descriptor) bool {
	return d.Dtype == e.Dtype && d.Shape.Equal(e.Shape)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s[%s]", d.Dtype, d.Shape)
}
