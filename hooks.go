// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"slices"

	"github.com/cockroachdb/hotspot/internal/base"
)

// The host engine integrates the Manager at five hook points:
//
//   - Write path: before a delete becomes a tombstone, call
//     Manager.InterceptDelete with the sequence number the tombstone would
//     have carried. A true return aborts tombstone creation.
//
//   - Flush completion: for each newly produced file, compute the set of
//     CUIDs appearing in its keys and call Manager.RegisterFileRefs,
//     atomically with (or strictly before) the file becoming visible to
//     readers.
//
//   - Compaction completion: immediately before installing the new file
//     versions, call Manager.ApplyCompactionResult under the same logical
//     commit as the version installation. The engine's version lock must
//     serialize a file's flush registration with its subsequent compaction
//     accounting; the Manager does not order these events itself.
//
//   - Read path: after locating the newest key version at or below the
//     reader's snapshot, call Manager.IsCUIDDeleted(cuid, snapshotSeq,
//     foundSeq); a true return means not-found (point gets) or skip
//     (iteration).
//
//   - Compaction iterator: for each key entering a compaction, call
//     Manager.IsCUIDDeleted(cuid, bottommostVisibleSeq, keySeq) where
//     bottommostVisibleSeq is the earliest open snapshot's sequence (or
//     base.SeqNumMax with no snapshots open). A true return drops the key
//     from the output; no open snapshot below the delete can still see it.
//
// FilterFunc is the shape of the read-path predicate, for engines that
// thread it as a function value rather than retaining the Manager.
type FilterFunc func(cuid base.CUID, visibleSeq, foundSeq base.SeqNum) bool

// Filter returns m's visibility predicate as a FilterFunc.
func (m *Manager) Filter() FilterFunc {
	return m.IsCUIDDeleted
}

// A CompactionUpdate accumulates the file accounting of one compaction as
// the engine runs it: inputs as the compaction picks them up, outputs as
// keys are written. Once the compaction's outputs are final, Apply performs
// the accounting in one atomic step.
//
// A CompactionUpdate is not safe for concurrent use; a compaction populates
// it from its own goroutine and applies it under the engine's version
// commit.
type CompactionUpdate struct {
	involved map[base.CUID]struct{}
	inputs   []base.PhysicalID
	outputs  map[base.PhysicalID]map[base.CUID]struct{}
}

// AddInput records a file consumed by the compaction, along with the CUIDs
// appearing in it.
func (u *CompactionUpdate) AddInput(physID base.PhysicalID, cuids ...base.CUID) {
	u.inputs = append(u.inputs, physID)
	if u.involved == nil {
		u.involved = make(map[base.CUID]struct{})
	}
	for _, cuid := range cuids {
		if cuid != base.CUIDNone {
			u.involved[cuid] = struct{}{}
		}
	}
}

// AddOutput records that the compaction wrote at least one key for cuid
// into output file physID. Calling it repeatedly for the same pair is
// cheap; engines typically invoke it per key written.
func (u *CompactionUpdate) AddOutput(physID base.PhysicalID, cuid base.CUID) {
	if cuid == base.CUIDNone {
		return
	}
	if u.outputs == nil {
		u.outputs = make(map[base.PhysicalID]map[base.CUID]struct{})
	}
	s, ok := u.outputs[physID]
	if !ok {
		s = make(map[base.CUID]struct{})
		u.outputs[physID] = s
	}
	s[cuid] = struct{}{}
}

// Apply performs the accumulated accounting against m; see
// Manager.ApplyCompactionResult for the atomicity contract.
func (u *CompactionUpdate) Apply(m *Manager) {
	involved := make([]base.CUID, 0, len(u.involved))
	for cuid := range u.involved {
		involved = append(involved, cuid)
	}
	// Deterministic order keeps log output and tests stable.
	slices.Sort(involved)
	outputs := make(map[base.PhysicalID][]base.CUID, len(u.outputs))
	for physID, cuids := range u.outputs {
		out := make([]base.CUID, 0, len(cuids))
		for cuid := range cuids {
			out = append(out, cuid)
		}
		slices.Sort(out)
		outputs[physID] = out
	}
	m.ApplyCompactionResult(involved, u.inputs, outputs)
}
