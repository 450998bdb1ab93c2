// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hotspot/internal/base"
)

// KeySchema describes where a key's collection unit identifier lives. The
// identifier occupies a fixed byte range of the user key, encoded as a
// big-endian unsigned 64-bit integer; an all-zero range means the key
// carries no identifier. Keys shorter than the extraction range carry no
// identifier either.
//
// The schema is fixed for the life of a process; changing it under a live
// database would divorce the table's registrations from the keys on disk.
type KeySchema struct {
	// CUIDOffset is the byte offset of the identifier within the user key.
	CUIDOffset int
}

// DefaultCUIDOffset is the identifier offset used when none is specified:
// a 16-byte prefix followed by the 8-byte identifier.
const DefaultCUIDOffset = 16

// Options hold the parameters for a Manager.
type Options struct {
	// KeySchema describes how CUIDs are extracted from user keys.
	KeySchema KeySchema

	// Logger is used for operational messages. Defaults to
	// base.DefaultLogger.
	Logger base.Logger

	// cuidOffsetSet distinguishes a configured zero offset from an
	// unconfigured one.
	cuidOffsetSet bool
}

// WithCUIDOffset sets the identifier offset, returning the receiver for
// convenience. Unlike assigning KeySchema directly, it marks a zero offset
// as intentional.
func (o *Options) WithCUIDOffset(offset int) *Options {
	o.KeySchema.CUIDOffset = offset
	o.cuidOffsetSet = true
	return o
}

// EnsureDefaults fills in unset fields, returning the receiver for
// convenience.
func (o *Options) EnsureDefaults() *Options {
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if !o.cuidOffsetSet && o.KeySchema.CUIDOffset == 0 {
		o.KeySchema.CUIDOffset = DefaultCUIDOffset
	}
	return o
}

// Validate returns an error if the options are unusable.
func (o *Options) Validate() error {
	if o.KeySchema.CUIDOffset < 0 {
		return errors.Newf("hotspot: negative CUID offset %d", o.KeySchema.CUIDOffset)
	}
	return nil
}
