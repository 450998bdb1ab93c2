// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/redact"
)

// CUID is a collection unit identifier: a 64-bit tag embedded in user keys
// that identifies a bulk-manageable collection of keys. A CUID of zero means
// the key carries no collection tag and is invisible to hotspot management.
type CUID uint64

// CUIDNone is the reserved "no collection" identifier. It is never tracked.
const CUIDNone CUID = 0

func (c CUID) String() string { return fmt.Sprintf("c%d", uint64(c)) }

// SafeFormat implements redact.SafeFormatter.
func (c CUID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("c%d", redact.SafeUint(c))
}

// CUIDWidth is the encoded width of a CUID within a user key. Keys embed the
// CUID as a fixed-width big-endian integer.
const CUIDWidth = 8

// DecodeCUID reads the CUID embedded in key at the given byte offset. Keys
// too short to contain the full extraction range decode as CUIDNone.
func DecodeCUID(key []byte, offset int) CUID {
	if len(key) < offset+CUIDWidth {
		return CUIDNone
	}
	return CUID(binary.BigEndian.Uint64(key[offset:]))
}

// EncodeCUID writes c as a fixed-width big-endian integer into buf, which
// must be at least CUIDWidth bytes.
func EncodeCUID(buf []byte, c CUID) {
	binary.BigEndian.PutUint64(buf, uint64(c))
}

// PhysicalID identifies a physical persistent file (an sstable) managed by
// the host engine. Identifiers are unique over the lifetime of a database
// and are never reused for distinct files.
type PhysicalID uint64

func (id PhysicalID) String() string { return fmt.Sprintf("%06d", uint64(id)) }

// SafeFormat implements redact.SafeFormatter.
func (id PhysicalID) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(id))
}
