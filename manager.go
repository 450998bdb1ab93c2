// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"github.com/cockroachdb/hotspot/internal/base"
)

// Manager mediates between a host LSM engine and the delete-count table. It
// owns one DeleteCountTable and the key schema, translating engine events
// (delete issued, flush completed, compaction completed) into table
// mutations and exposing the visibility predicate to the read path.
//
// The Manager is stateless beyond the table, the schema and its metrics
// counters; all methods are safe for concurrent use.
type Manager struct {
	opts    Options
	table   *DeleteCountTable
	metrics Metrics
}

// NewManager constructs a Manager with the given options.
func NewManager(opts Options) (*Manager, error) {
	opts.EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		opts:  opts,
		table: NewDeleteCountTable(),
	}, nil
}

// ExtractCUID decodes the collection unit identifier embedded in key.
// Keys shorter than the extraction range yield base.CUIDNone.
func (m *Manager) ExtractCUID(key []byte) base.CUID {
	return base.DecodeCUID(key, m.opts.KeySchema.CUIDOffset)
}

// InterceptDelete is called by the engine's write path before a delete
// becomes a tombstone. seq must be the sequence number the engine would
// have stamped onto the tombstone.
//
// If the key carries a CUID, the delete is recorded in the table and
// InterceptDelete returns true: the engine must then skip tombstone
// creation entirely (no WAL entry, no memtable insertion). A false return
// means the key is outside hotspot management and the engine proceeds with
// a normal delete.
func (m *Manager) InterceptDelete(key []byte, seq base.SeqNum) bool {
	cuid := m.ExtractCUID(key)
	if cuid == base.CUIDNone {
		return false
	}
	m.table.MarkDeleted(cuid, seq)
	m.metrics.DeletesIntercepted.Add(1)
	return true
}

// RegisterFileRefs records that the newly visible file physID contains keys
// for each CUID in cuids. The engine must call this when a flush or
// ingestion produces a file, atomically with (or strictly before) the file
// becoming visible to readers.
func (m *Manager) RegisterFileRefs(physID base.PhysicalID, cuids []base.CUID) {
	for _, cuid := range cuids {
		if cuid == base.CUIDNone {
			continue
		}
		if m.table.TrackPhysicalUnit(cuid, physID) {
			m.metrics.FileRefsAdded.Add(1)
		}
	}
}

// ApplyCompactionResult applies the file accounting of a completed
// compaction; see DeleteCountTable.ApplyCompactionUpdate. The engine must
// call this under the same logical commit that installs the compaction's
// version edit.
func (m *Manager) ApplyCompactionResult(
	involvedCUIDs []base.CUID,
	inputFiles []base.PhysicalID,
	outputs map[base.PhysicalID][]base.CUID,
) {
	before := m.table.ReclaimedEntries()
	m.table.ApplyCompactionUpdate(involvedCUIDs, inputFiles, outputs)
	m.metrics.CompactionUpdates.Add(1)
	if n := m.table.ReclaimedEntries() - before; n > 0 {
		m.opts.Logger.Infof("hotspot: compaction reclaimed %d collection entries", n)
	}
}

// IsCUIDDeleted is the read-path visibility predicate; see
// DeleteCountTable.IsDeleted.
func (m *Manager) IsCUIDDeleted(cuid base.CUID, visibleSeq, foundSeq base.SeqNum) bool {
	return m.table.IsDeleted(cuid, visibleSeq, foundSeq)
}

// GetDeleteSequence returns the sequence number of the most recent logical
// delete of cuid, or base.SeqNumMax if none.
func (m *Manager) GetDeleteSequence(cuid base.CUID) base.SeqNum {
	return m.table.GetDeleteSequence(cuid)
}

// DeleteTable returns the underlying delete-count table, for diagnostics
// and tests.
func (m *Manager) DeleteTable() *DeleteCountTable {
	return m.table
}

// Metrics returns a snapshot of the manager's metrics.
func (m *Manager) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		DeletesIntercepted: m.metrics.DeletesIntercepted.Load(),
		FileRefsAdded:      m.metrics.FileRefsAdded.Load(),
		CompactionUpdates:  m.metrics.CompactionUpdates.Load(),
		TrackedCUIDs:       uint64(m.table.NumTracked()),
		ReclaimedEntries:   m.table.ReclaimedEntries(),
	}
}
