// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/hotspot/internal/base"
	"github.com/cockroachdb/hotspot/internal/invariants"
	"github.com/cockroachdb/swiss"
)

// DeleteCountTable is the global delete-count table: a process-wide mapping
// from CUID to the set of live physical files containing keys for that CUID,
// together with the CUID's logical-delete state.
//
// The table is the authority for two questions:
//
//  1. Visibility: has this CUID been logically deleted as of a reader's
//     snapshot, shadowing a particular datum? (IsDeleted)
//  2. Reclamation: does any live file still hold data for this CUID?
//     (GetRefCount, and the garbage-collection of entries performed by
//     ApplyCompactionUpdate and UntrackFiles)
//
// Logical deletes write no tombstones. A delete is recorded here as a
// (flag, sequence number) pair; the read path consults IsDeleted to elide
// shadowed data, and compactions consult it to drop shadowed keys from
// their outputs. Once every file containing a deleted CUID's keys has been
// compacted away, the entry itself is reclaimed.
//
// The table is in-memory only. After a restart the embedding engine
// reconstructs it by re-registering the CUIDs of every live sstable and
// replaying logical deletes from its own journal.
//
// All methods are safe for concurrent use. Mutations acquire an exclusive
// lock; queries acquire a shared lock. Every observable operation happens
// under a single lock acquisition, so readers always see an entry state
// that some sequential execution could have produced.
type DeleteCountTable struct {
	mu    sync.RWMutex
	table swiss.Map[base.CUID, *cuidEntry]

	// reclaimedEntries counts entries erased because their last file
	// reference was dropped while logically deleted.
	reclaimedEntries atomic.Uint64
}

// cuidEntry is the table's record for one tracked CUID.
//
// An entry exists while at least one of the following holds: a live file is
// registered for the CUID, or a logical delete has been issued and some
// file registered before or after it has not yet been retired. An entry
// with deleted set and an empty physIDs set is unreachable data and is
// erased eagerly by whichever mutation empties the set.
type cuidEntry struct {
	// physIDs holds every live physical file currently containing at least
	// one key for this CUID. Unordered; order is never observed.
	physIDs map[base.PhysicalID]struct{}
	// deleted is true once a logical delete has been issued for the CUID.
	deleted bool
	// deletedSeqNum is the sequence number of the most recent logical
	// delete, or base.SeqNumMax if deleted is false. It never decreases.
	deletedSeqNum base.SeqNum
}

// NewDeleteCountTable returns an empty table.
func NewDeleteCountTable() *DeleteCountTable {
	t := &DeleteCountTable{}
	t.table.Init(16)
	return t
}

// getOrCreateLocked returns the entry for cuid, creating it if absent.
// Requires the exclusive lock.
func (t *DeleteCountTable) getOrCreateLocked(cuid base.CUID) *cuidEntry {
	e, ok := t.table.Get(cuid)
	if !ok {
		e = &cuidEntry{
			physIDs:       make(map[base.PhysicalID]struct{}),
			deletedSeqNum: base.SeqNumMax,
		}
		t.table.Put(cuid, e)
	}
	return e
}

// TrackPhysicalUnit records that file physID contains at least one key for
// cuid, creating the entry if the CUID is not yet tracked. It returns true
// if the file was not already registered for the CUID; callers maintaining
// an external reference count must increment it exactly once per true
// return.
func (t *DeleteCountTable) TrackPhysicalUnit(cuid base.CUID, physID base.PhysicalID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(cuid)
	if _, ok := e.physIDs[physID]; ok {
		return false
	}
	e.physIDs[physID] = struct{}{}
	return true
}

// UntrackPhysicalUnit removes the registration of physID for cuid. If the
// CUID's last file reference is removed and the CUID is logically deleted,
// the entry is erased.
func (t *DeleteCountTable) UntrackPhysicalUnit(cuid base.CUID, physID base.PhysicalID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.table.Get(cuid)
	if !ok {
		return
	}
	delete(e.physIDs, physID)
	t.maybeReclaimLocked(cuid, e)
	t.checkInvariantsLocked()
}

// UntrackFiles removes the registration of every file in physIDs for cuid,
// applying the same end-of-life check as UntrackPhysicalUnit.
func (t *DeleteCountTable) UntrackFiles(cuid base.CUID, physIDs []base.PhysicalID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.table.Get(cuid)
	if !ok {
		return
	}
	for _, id := range physIDs {
		delete(e.physIDs, id)
	}
	t.maybeReclaimLocked(cuid, e)
	t.checkInvariantsLocked()
}

// MarkDeleted records a logical delete of cuid at sequence number seq,
// creating the entry if the CUID is not yet tracked. Repeated deletes only
// ever raise the recorded sequence number; a stale delete arriving late
// cannot roll the CUID's delete point backwards.
//
// MarkDeleted performs no entry reclamation: a delete may legitimately
// precede the first file registration (the registration then revives
// nothing; the entry was simply created by the delete), so an empty
// deleted entry is not erased here. Reclamation happens only when a file
// untracking empties the set.
func (t *DeleteCountTable) MarkDeleted(cuid base.CUID, seq base.SeqNum) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getOrCreateLocked(cuid)
	e.deleted = true
	if e.deletedSeqNum == base.SeqNumMax || seq > e.deletedSeqNum {
		e.deletedSeqNum = seq
	}
	return true
}

// IsDeleted reports whether a datum for cuid written at foundSeq is
// shadowed by a logical delete, from the point of view of a reader whose
// snapshot is visibleSeq.
//
// The datum is shadowed iff a delete was issued at some sequence D with
// visibleSeq >= D (the reader's snapshot is at or after the delete) and
// foundSeq < D (the datum was written strictly before the delete). The
// strict inequality preserves re-insertion: if a delete and a subsequent
// put land on the same sequence number (a single logical tick), the put
// remains visible — a delete never shadows its own tick.
func (t *DeleteCountTable) IsDeleted(cuid base.CUID, visibleSeq, foundSeq base.SeqNum) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.table.Get(cuid)
	if !ok || !e.deleted {
		return false
	}
	delSeq := e.deletedSeqNum
	if delSeq == base.SeqNumMax {
		return false
	}
	return visibleSeq >= delSeq && foundSeq < delSeq
}

// GetDeleteSequence returns the sequence number of the most recent logical
// delete of cuid, or base.SeqNumMax if no delete has been issued.
func (t *DeleteCountTable) GetDeleteSequence(cuid base.CUID) base.SeqNum {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.table.Get(cuid); ok && e.deleted {
		return e.deletedSeqNum
	}
	return base.SeqNumMax
}

// GetRefCount returns the number of live physical files registered for
// cuid. Untracked CUIDs report zero.
func (t *DeleteCountTable) GetRefCount(cuid base.CUID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.table.Get(cuid); ok {
		return len(e.physIDs)
	}
	return 0
}

// IsTracked reports whether the table has an entry for cuid.
func (t *DeleteCountTable) IsTracked(cuid base.CUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.table.Get(cuid)
	return ok
}

// NumTracked returns the number of tracked CUIDs.
func (t *DeleteCountTable) NumTracked() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table.Len()
}

// ReclaimedEntries returns the cumulative number of entries erased because
// their last file reference was dropped while logically deleted.
func (t *DeleteCountTable) ReclaimedEntries() uint64 {
	return t.reclaimedEntries.Load()
}

// ApplyCompactionUpdate atomically rewrites the table to reflect a
// completed compaction. involvedCUIDs lists every CUID appearing in any
// input file; inputFiles lists every physical file consumed (destroyed) by
// the compaction; outputs maps each newly produced physical file to the
// CUIDs that survived into it.
//
// The whole update is one critical section: a concurrent reader observes
// either the pre-compaction registrations or the post-compaction ones,
// never a partially applied mix.
//
// Within the critical section outputs are credited before inputs are
// debited, so a CUID's registration set over-approximates (and never
// under-approximates) the set of live files mid-update. The protocol
// handles every compaction shape:
//
//   - File split: each output is credited independently; a single debit of
//     each input covers all of them.
//   - Full drop: a CUID absent from every output is only debited; if it is
//     logically deleted and its set empties, the entry is reclaimed.
//   - Trivial move: an engine may reuse a file's identifier when migrating
//     it between levels unchanged. A reused identifier appears both as an
//     input and an output; the debit skips identifiers credited to the
//     same CUID by this update, leaving the file registered.
func (t *DeleteCountTable) ApplyCompactionUpdate(
	involvedCUIDs []base.CUID,
	inputFiles []base.PhysicalID,
	outputs map[base.PhysicalID][]base.CUID,
) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for outID, cuids := range outputs {
		for _, cuid := range cuids {
			e := t.getOrCreateLocked(cuid)
			e.physIDs[outID] = struct{}{}
		}
	}

	for _, cuid := range involvedCUIDs {
		e, ok := t.table.Get(cuid)
		if !ok {
			continue
		}
		for _, oldID := range inputFiles {
			if _, credited := outputs[oldID]; credited && slices.Contains(outputs[oldID], cuid) {
				continue
			}
			delete(e.physIDs, oldID)
		}
		t.maybeReclaimLocked(cuid, e)
	}
	t.checkInvariantsLocked()
}

// maybeReclaimLocked erases the entry for cuid if it has no registered
// files and is logically deleted. Requires the exclusive lock.
func (t *DeleteCountTable) maybeReclaimLocked(cuid base.CUID, e *cuidEntry) {
	if len(e.physIDs) == 0 && e.deleted {
		t.table.Delete(cuid)
		t.reclaimedEntries.Add(1)
	}
}

// checkInvariantsLocked re-verifies entry invariants after a mutation in
// invariant builds. Requires the exclusive lock.
func (t *DeleteCountTable) checkInvariantsLocked() {
	if !invariants.Enabled {
		return
	}
	t.table.All(func(cuid base.CUID, e *cuidEntry) bool {
		if cuid == base.CUIDNone {
			panic("hotspot: CUID zero tracked in delete-count table")
		}
		// Note: a deleted entry with no registered files is legal here; a
		// delete may precede the first file registration, and such entries
		// are reclaimed only at untrack time.
		if !e.deleted && e.deletedSeqNum != base.SeqNumMax {
			panic(fmt.Sprintf("hotspot: undeleted entry for %s carries delete seqnum %s", cuid, e.deletedSeqNum))
		}
		return true
	})
}
