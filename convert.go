// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cellflow

import (
	"context"

	"github.com/grailbio/cellflow/async"
	"github.com/grailbio/cellflow/errors"
	"github.com/grailbio/cellflow/values"
)

// A Converter renders payloads into a canonical host-accessible
// representation compatible with the set of acceptable kinds.
// Conversion is asynchronous -- backends may have to copy data off a
// device -- and may fail; the returned cell carries the converted
// payload or the conversion error.
type Converter interface {
	ToHost(ctx context.Context, p values.Payload, allowed ...values.Kind) async.Ref[values.Payload]
}

// HostConverter is the identity converter: every payload in the
// closed set is already host accessible, so conversion succeeds
// synchronously whenever the payload's kind is acceptable.
type HostConverter struct{}

var _ Converter = HostConverter{}

// ToHost implements Converter.
func (HostConverter) ToHost(ctx context.Context, p values.Payload, allowed ...values.Kind) async.Ref[values.Payload] {
	if len(allowed) == 0 {
		return async.Concrete(p)
	}
	for _, k := range allowed {
		if p.Kind() == k {
			return async.Concrete(p)
		}
	}
	return async.Errored[values.Payload](errors.E("tohost", errors.NotSupported,
		errors.New("payload kind "+p.Kind().String()+" not acceptable")))
}
