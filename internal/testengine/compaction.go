// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package testengine

import (
	"bytes"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hotspot"
	"github.com/cockroachdb/hotspot/internal/base"
)

// Compact merges every table at fromLevel, together with the overlapping
// tables one level down, into fromLevel+1. A single table with no overlap
// below and nothing to drop is moved without rewriting, reusing its
// physical identifier.
//
// The compaction reports its file accounting to the hotspot manager in one
// atomic update before the new tables are installed, and consults the
// manager's drop predicate for every key it rewrites: keys shadowed by a
// logical delete that no open snapshot can still see are elided from the
// output. Obsolete versions within a snapshot stripe and bottom-level
// tombstones are dropped as in any leveled compaction.
func (d *DB) Compact(fromLevel int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	toLevel := fromLevel + 1
	if toLevel >= len(d.mu.levels) {
		return errors.Newf("testengine: no level beneath L%d", fromLevel)
	}
	srcs := d.mu.levels[fromLevel]
	if len(srcs) == 0 {
		return nil
	}

	var overlapping []*table
	var disjoint []*table
	for _, t := range d.mu.levels[toLevel] {
		hit := false
		for _, s := range srcs {
			if t.overlaps(s) {
				hit = true
				break
			}
		}
		if hit {
			overlapping = append(overlapping, t)
		} else {
			disjoint = append(disjoint, t)
		}
	}

	if len(srcs) == 1 && len(overlapping) == 0 {
		droppable, err := d.anyDroppableLocked(srcs[0], toLevel)
		if err != nil {
			return err
		}
		if !droppable {
			d.trivialMoveLocked(srcs[0], fromLevel, toLevel)
			return nil
		}
	}

	inputs := append(slices.Clone(srcs), overlapping...)
	var all []record
	var u hotspot.CompactionUpdate
	for _, t := range inputs {
		recs, err := t.load()
		if err != nil {
			return err
		}
		all = append(all, recs...)
		u.AddInput(t.physID, t.cuids...)
	}
	kept := d.dropObsoleteLocked(sortRecords(all), toLevel)

	var outs []*table
	var cur []record
	curSize := 0
	flushOutput := func() error {
		if len(cur) == 0 {
			return nil
		}
		t, err := buildTable(d.nextPhysIDLocked(), cur, d.mgr)
		if err != nil {
			return err
		}
		for _, cuid := range t.cuids {
			u.AddOutput(t.physID, cuid)
		}
		outs = append(outs, t)
		cur, curSize = nil, 0
		return nil
	}
	for _, r := range kept {
		cur = append(cur, r)
		curSize += len(r.key) + len(r.value)
		if curSize >= d.opts.TargetFileSize {
			if err := flushOutput(); err != nil {
				return err
			}
		}
	}
	if err := flushOutput(); err != nil {
		return err
	}

	// Accounting and version installation form one logical commit: both
	// happen under d.mu before any reader can observe the new tables.
	u.Apply(d.mgr)

	d.mu.levels[fromLevel] = removeTables(d.mu.levels[fromLevel], srcs)
	merged := append(disjoint, outs...)
	slices.SortFunc(merged, func(a, b *table) int {
		return bytes.Compare(a.smallest, b.smallest)
	})
	d.mu.levels[toLevel] = merged
	return nil
}

// trivialMoveLocked migrates t one level down unchanged. The engine reuses
// the physical identifier; the accounting update credits and debits the
// same identifier, which must leave the file registered.
func (d *DB) trivialMoveLocked(t *table, fromLevel, toLevel int) {
	var u hotspot.CompactionUpdate
	u.AddInput(t.physID, t.cuids...)
	for _, cuid := range t.cuids {
		u.AddOutput(t.physID, cuid)
	}
	u.Apply(d.mgr)

	d.mu.levels[fromLevel] = removeTables(d.mu.levels[fromLevel], []*table{t})
	d.mu.levels[toLevel] = append(d.mu.levels[toLevel], t)
	slices.SortFunc(d.mu.levels[toLevel], func(a, b *table) int {
		return bytes.Compare(a.smallest, b.smallest)
	})
}

// anyDroppableLocked reports whether rewriting t into toLevel would drop
// any of its records, which disqualifies a trivial move.
func (d *DB) anyDroppableLocked(t *table, toLevel int) (bool, error) {
	recs, err := t.load()
	if err != nil {
		return false, err
	}
	hotVisible := d.earliestSnapshotLocked()
	bottom := toLevel == len(d.mu.levels)-1
	for _, r := range recs {
		if r.kind == kindDelete && bottom {
			return true, nil
		}
		cuid := d.mgr.ExtractCUID(r.key)
		if d.mgr.IsCUIDDeleted(cuid, hotVisible, r.seq) {
			return true, nil
		}
	}
	return false, nil
}

// dropObsoleteLocked filters the sorted compaction input down to the
// records worth writing: per user key it keeps the newest record of each
// snapshot stripe, elides records shadowed by a logical delete that no
// open snapshot can still observe, and elides tombstones when writing the
// bottom level's oldest stripe.
func (d *DB) dropObsoleteLocked(recs []record, toLevel int) []record {
	snaps := d.snapshotSeqsLocked()
	hotVisible := d.earliestSnapshotLocked()
	bottom := toLevel == len(d.mu.levels)-1
	oldestStripe := len(snaps)

	stripe := func(seq base.SeqNum) int {
		idx := 0
		for _, s := range snaps {
			if seq > s {
				break
			}
			idx++
		}
		return idx
	}

	var kept []record
	var curKey []byte
	seenStripes := make(map[int]struct{})
	for _, r := range recs {
		if !bytes.Equal(r.key, curKey) {
			curKey = r.key
			clear(seenStripes)
		}
		cuid := d.mgr.ExtractCUID(r.key)
		if d.mgr.IsCUIDDeleted(cuid, hotVisible, r.seq) {
			continue
		}
		st := stripe(r.seq)
		if _, ok := seenStripes[st]; ok {
			continue
		}
		seenStripes[st] = struct{}{}
		if r.kind == kindDelete && bottom && st == oldestStripe {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func removeTables(level []*table, gone []*table) []*table {
	out := level[:0:0]
	for _, t := range level {
		if !slices.Contains(gone, t) {
			out = append(out, t)
		}
	}
	return out
}
