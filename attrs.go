// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cellflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/cellflow/values"
)

// AttrKind enumerates the closed set of attribute kinds.
type AttrKind int

const (
	// AttrInvalid is the kind of the zero Attr.
	AttrInvalid AttrKind = iota
	// AttrBool is a boolean attribute.
	AttrBool
	// AttrInt is a 64-bit integer attribute.
	AttrInt
	// AttrFloat is a 64-bit float attribute.
	AttrFloat
	// AttrStr is a string attribute.
	AttrStr
	// AttrDtype is a dtype tag attribute.
	AttrDtype
	// AttrShape is a shape attribute.
	AttrShape
	// AttrInts is an integer array attribute.
	AttrInts
	// AttrFloats is a float array attribute.
	AttrFloats
	// AttrStrs is a string array attribute.
	AttrStrs
)

// An Attr is one attribute value: a tagged union over the closed set
// of attribute kinds, checked by kind-typed getters at the boundary
// between the core and the operation layer.
type Attr struct {
	kind  AttrKind
	b     bool
	i     int64
	f     float64
	s     string
	dt    values.Dtype
	shape values.Shape
	is    []int64
	fs    []float64
	ss    []string
}

// BoolAttr returns a boolean attribute.
func BoolAttr(v bool) Attr { return Attr{kind: AttrBool, b: v} }

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attr { return Attr{kind: AttrInt, i: v} }

// FloatAttr returns a float attribute.
func FloatAttr(v float64) Attr { return Attr{kind: AttrFloat, f: v} }

// StrAttr returns a string attribute.
func StrAttr(v string) Attr { return Attr{kind: AttrStr, s: v} }

// DtypeAttr returns a dtype tag attribute.
func DtypeAttr(v values.Dtype) Attr { return Attr{kind: AttrDtype, dt: v} }

// ShapeAttr returns a shape attribute.
func ShapeAttr(v values.Shape) Attr { return Attr{kind: AttrShape, shape: v} }

// IntsAttr returns an integer array attribute.
func IntsAttr(v ...int64) Attr { return Attr{kind: AttrInts, is: v} }

// FloatsAttr returns a float array attribute.
func FloatsAttr(v ...float64) Attr { return Attr{kind: AttrFloats, fs: v} }

// StrsAttr returns a string array attribute.
func StrsAttr(v ...string) Attr { return Attr{kind: AttrStrs, ss: v} }

// Kind returns the attribute's kind.
func (a Attr) Kind() AttrKind { return a.kind }

func (a Attr) String() string {
	switch a.kind {
	case AttrBool:
		return fmt.Sprint(a.b)
	case AttrInt:
		return fmt.Sprint(a.i)
	case AttrFloat:
		return fmt.Sprint(a.f)
	case AttrStr:
		return fmt.Sprintf("%q", a.s)
	case AttrDtype:
		return a.dt.String()
	case AttrShape:
		return a.shape.String()
	case AttrInts:
		return fmt.Sprint(a.is)
	case AttrFloats:
		return fmt.Sprint(a.fs)
	case AttrStrs:
		return fmt.Sprintf("%q", a.ss)
	}
	return "invalid"
}

// Attrs is the attribute bag passed to an operation. Getters return
// ok=false when the key is missing or holds a different kind.
type Attrs map[string]Attr

// Bool returns the boolean attribute for key.
func (a Attrs) Bool(key string) (bool, bool) {
	v, ok := a[key]
	return v.b, ok && v.kind == AttrBool
}

// Int returns the integer attribute for key.
func (a Attrs) Int(key string) (int64, bool) {
	v, ok := a[key]
	return v.i, ok && v.kind == AttrInt
}

// Float returns the float attribute for key.
func (a Attrs) Float(key string) (float64, bool) {
	v, ok := a[key]
	return v.f, ok && v.kind == AttrFloat
}

// Str returns the string attribute for key.
func (a Attrs) Str(key string) (string, bool) {
	v, ok := a[key]
	return v.s, ok && v.kind == AttrStr
}

// Dtype returns the dtype attribute for key.
func (a Attrs) Dtype(key string) (values.Dtype, bool) {
	v, ok := a[key]
	return v.dt, ok && v.kind == AttrDtype
}

// Shape returns the shape attribute for key.
func (a Attrs) Shape(key string) (values.Shape, bool) {
	v, ok := a[key]
	return v.shape, ok && v.kind == AttrShape
}

// Ints returns the integer array attribute for key.
func (a Attrs) Ints(key string) ([]int64, bool) {
	v, ok := a[key]
	return v.is, ok && v.kind == AttrInts
}

// Floats returns the float array attribute for key.
func (a Attrs) Floats(key string) ([]float64, bool) {
	v, ok := a[key]
	return v.fs, ok && v.kind == AttrFloats
}

// Strs returns the string array attribute for key.
func (a Attrs) Strs(key string) ([]string, bool) {
	v, ok := a[key]
	return v.ss, ok && v.kind == AttrStrs
}

func (a Attrs) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	elems := make([]string, len(keys))
	for i, k := range keys {
		elems[i] = k + "=" + a[k].String()
	}
	return "{" + strings.Join(elems, ", ") + "}"
}
