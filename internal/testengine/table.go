// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package testengine

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hotspot"
	"github.com/cockroachdb/hotspot/internal/base"
	"github.com/golang/snappy"
)

// table is an immutable flushed or compacted file. Records are stored as a
// single snappy-compressed block guarded by an xxhash checksum; metadata
// needed without decoding (bounds, contained CUIDs, size) is kept aside,
// the way a real engine keeps table properties.
type table struct {
	physID   base.PhysicalID
	smallest []byte
	largest  []byte
	// cuids are the distinct collection identifiers appearing in the
	// table's keys, in ascending order.
	cuids    []base.CUID
	block    []byte
	checksum uint64
	// rawSize is the uncompressed key+value byte count.
	rawSize int
}

// sortRecords orders records by key ascending, then sequence descending,
// without mutating the input.
func sortRecords(recs []record) []record {
	sorted := slices.Clone(recs)
	slices.SortFunc(sorted, func(a, b record) int {
		if c := bytes.Compare(a.key, b.key); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return sorted
}

func sortStrings(s []string) { slices.Sort(s) }

func sortSeqsDesc(seqs []base.SeqNum) {
	slices.SortFunc(seqs, func(a, b base.SeqNum) int { return cmp.Compare(b, a) })
}

// buildTable encodes the sorted records into a table with physID, deriving
// the CUID set through the manager's key schema.
func buildTable(physID base.PhysicalID, recs []record, mgr *hotspot.Manager) (*table, error) {
	if len(recs) == 0 {
		return nil, errors.AssertionFailedf("testengine: building empty table %s", physID)
	}
	var buf []byte
	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf = append(buf, scratch[:n]...)
	}
	cuidSet := make(map[base.CUID]struct{})
	rawSize := 0
	for _, r := range recs {
		putUvarint(uint64(len(r.key)))
		buf = append(buf, r.key...)
		putUvarint(uint64(r.seq))
		buf = append(buf, byte(r.kind))
		putUvarint(uint64(len(r.value)))
		buf = append(buf, r.value...)
		rawSize += len(r.key) + len(r.value)
		if cuid := mgr.ExtractCUID(r.key); cuid != base.CUIDNone {
			cuidSet[cuid] = struct{}{}
		}
	}
	cuids := make([]base.CUID, 0, len(cuidSet))
	for cuid := range cuidSet {
		cuids = append(cuids, cuid)
	}
	slices.Sort(cuids)

	block := snappy.Encode(nil, buf)
	return &table{
		physID:   physID,
		smallest: bytes.Clone(recs[0].key),
		largest:  bytes.Clone(recs[len(recs)-1].key),
		cuids:    cuids,
		block:    block,
		checksum: xxhash.Sum64(block),
		rawSize:  rawSize,
	}, nil
}

// load decodes the table's records, verifying the checksum.
func (t *table) load() ([]record, error) {
	if xxhash.Sum64(t.block) != t.checksum {
		return nil, errors.Newf("testengine: checksum mismatch in table %s", t.physID)
	}
	buf, err := snappy.Decode(nil, t.block)
	if err != nil {
		return nil, errors.Wrapf(err, "testengine: decompressing table %s", t.physID)
	}
	var recs []record
	for len(buf) > 0 {
		keyLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.Newf("testengine: corrupt key length in table %s", t.physID)
		}
		buf = buf[n:]
		key := bytes.Clone(buf[:keyLen])
		buf = buf[keyLen:]
		seq, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.Newf("testengine: corrupt seqnum in table %s", t.physID)
		}
		buf = buf[n:]
		kind := recordKind(buf[0])
		buf = buf[1:]
		valLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errors.Newf("testengine: corrupt value length in table %s", t.physID)
		}
		buf = buf[n:]
		value := bytes.Clone(buf[:valLen])
		buf = buf[valLen:]
		recs = append(recs, record{key: key, seq: base.SeqNum(seq), kind: kind, value: value})
	}
	return recs, nil
}

func (t *table) containsKey(key []byte) bool {
	return bytes.Compare(key, t.smallest) >= 0 && bytes.Compare(key, t.largest) <= 0
}

// overlaps reports whether the key ranges of t and other intersect.
func (t *table) overlaps(other *table) bool {
	return bytes.Compare(t.smallest, other.largest) <= 0 &&
		bytes.Compare(other.smallest, t.largest) <= 0
}
