// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cellflow implements a dataflow execution core: results
// that do not yet exist are represented as first-class future cells
// (package async), computation is chained onto those cells before
// they resolve, and operations are dispatched as soon as their
// inputs become ready, without ever blocking the issuing goroutine
// (package dispatch).
//
// This package defines the values exchanged between the dispatch
// core and the operation layer: Artifact, the composite handle whose
// descriptor and payload resolve independently; Attrs, the closed
// attribute bag passed to operations; and the Op, Handler, Registry,
// and Fn types through which operation implementations are resolved
// and invoked.
package cellflow
