// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/redact"
)

// SeqNum is a sequence number assigned by the host engine to each committed
// write. Sequence numbers provide a total ordering over writes; readers use
// them to observe a consistent database state, ignoring keys with sequence
// numbers larger than the reader's visible sequence number.
type SeqNum uint64

const (
	// SeqNumZero is the zero sequence number. The host engine may assign it to
	// keys when it can prove no identical keys with lower sequence numbers
	// exist.
	SeqNumZero SeqNum = 0
	// SeqNumStart is the first sequence number assigned to a committed write.
	// Sequence numbers 1-9 are reserved.
	SeqNumStart SeqNum = 10
	// SeqNumMax is the largest valid sequence number. It doubles as the
	// "unbounded" sentinel: a delete sequence of SeqNumMax means no delete has
	// been issued, and a visible sequence of SeqNumMax means the reader sees
	// everything.
	SeqNumMax SeqNum = 1<<56 - 1
)

func (s SeqNum) String() string {
	if s == SeqNumMax {
		return "inf"
	}
	return strconv.FormatUint(uint64(s), 10)
}

// SafeFormat implements redact.SafeFormatter.
func (s SeqNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// ParseSeqNum parses the string representation of a sequence number.
// "inf" is supported and maps to SeqNumMax.
func ParseSeqNum(s string) SeqNum {
	if strings.EqualFold(s, "inf") {
		return SeqNumMax
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid sequence number: %q", s))
	}
	return SeqNum(v)
}
