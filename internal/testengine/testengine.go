// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package testengine implements a miniature in-memory LSM engine wired to a
// hotspot.Manager through every one of its integration hooks: delete
// interception on the write path, file registration on flush, compaction
// accounting, the read-path visibility filter, and the compaction-iterator
// drop predicate.
//
// The engine exists to exercise the hotspot core end to end — flushes,
// manual compactions with file splitting and trivial moves, MVCC snapshots
// — without a real storage engine underneath. Writes append to a memtable;
// Flush sorts the memtable into an immutable table at L0; Compact merges a
// level into the next one. Tables hold their records snappy-compressed with
// an xxhash checksum, purely so that reads traverse a realistic
// encode/decode boundary.
package testengine

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hotspot"
	"github.com/cockroachdb/hotspot/internal/base"
)

// ErrNotFound means the key is absent, tombstoned, or shadowed by a
// logical delete.
var ErrNotFound = errors.New("testengine: not found")

// Options hold the engine's tuning knobs.
type Options struct {
	// NumLevels is the depth of the LSM. Defaults to 3.
	NumLevels int
	// TargetFileSize bounds the accumulated key+value bytes of a single
	// compaction output before the output is split. Defaults to 32 KB.
	TargetFileSize int
	// Hotspot configures the attached manager.
	Hotspot hotspot.Options
}

func (o *Options) ensureDefaults() {
	if o.NumLevels == 0 {
		o.NumLevels = 3
	}
	if o.TargetFileSize == 0 {
		o.TargetFileSize = 32 << 10
	}
}

type recordKind uint8

const (
	kindSet recordKind = iota
	kindDelete
)

// record is one versioned key-value entry.
type record struct {
	key   []byte
	seq   base.SeqNum
	kind  recordKind
	value []byte
}

// DB is the engine instance.
type DB struct {
	opts Options
	mgr  *hotspot.Manager

	mu struct {
		sync.Mutex
		seq        base.SeqNum
		nextPhysID base.PhysicalID
		memtable   []record
		// levels[0] holds L0 tables ordered oldest to newest; deeper levels
		// hold key-disjoint tables ordered by smallest key.
		levels    [][]*table
		snapshots map[*Snapshot]struct{}
	}
}

// Open creates an engine.
func Open(opts Options) (*DB, error) {
	opts.ensureDefaults()
	mgr, err := hotspot.NewManager(opts.Hotspot)
	if err != nil {
		return nil, err
	}
	d := &DB{opts: opts, mgr: mgr}
	d.mu.seq = base.SeqNumStart
	d.mu.nextPhysID = 1
	d.mu.levels = make([][]*table, opts.NumLevels)
	d.mu.snapshots = make(map[*Snapshot]struct{})
	return d, nil
}

// Manager returns the attached hotspot manager.
func (d *DB) Manager() *hotspot.Manager { return d.mgr }

// Key builds a user key in the manager's default schema: a fixed 16-byte
// prefix, the big-endian CUID, and a distinguishing suffix.
func Key(cuid base.CUID, suffix string) []byte {
	key := make([]byte, hotspot.DefaultCUIDOffset+base.CUIDWidth, hotspot.DefaultCUIDOffset+base.CUIDWidth+len(suffix))
	copy(key, "pad_0000000000_k")
	base.EncodeCUID(key[hotspot.DefaultCUIDOffset:], cuid)
	return append(key, suffix...)
}

// Set writes a key-value pair.
func (d *DB) Set(key, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mu.seq++
	d.mu.memtable = append(d.mu.memtable, record{
		key:   bytes.Clone(key),
		seq:   d.mu.seq,
		kind:  kindSet,
		value: bytes.Clone(value),
	})
}

// Delete deletes a key. Keys carrying a CUID are intercepted by the
// manager and produce no tombstone; the delete is purely logical.
func (d *DB) Delete(key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mu.seq++
	if d.mgr.InterceptDelete(key, d.mu.seq) {
		return
	}
	d.mu.memtable = append(d.mu.memtable, record{
		key:  bytes.Clone(key),
		seq:  d.mu.seq,
		kind: kindDelete,
	})
}

// Snapshot pins a point-in-time view of the database.
type Snapshot struct {
	db  *DB
	seq base.SeqNum
}

// NewSnapshot returns a snapshot at the current sequence.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Snapshot{db: d, seq: d.mu.seq}
	d.mu.snapshots[s] = struct{}{}
	return s
}

// Close releases the snapshot.
func (s *Snapshot) Close() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.mu.snapshots, s)
}

// Get returns the newest visible value of key.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLocked(key, d.mu.seq)
}

// GetAt returns the value of key as of snapshot s.
func (d *DB) GetAt(key []byte, s *Snapshot) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLocked(key, s.seq)
}

func (d *DB) getLocked(key []byte, visibleSeq base.SeqNum) ([]byte, error) {
	rec, ok, err := d.findLocked(key, visibleSeq)
	if err != nil {
		return nil, err
	}
	if !ok || rec.kind == kindDelete {
		return nil, ErrNotFound
	}
	cuid := d.mgr.ExtractCUID(key)
	if d.mgr.IsCUIDDeleted(cuid, visibleSeq, rec.seq) {
		return nil, ErrNotFound
	}
	return rec.value, nil
}

// findLocked locates the newest record for key with seq <= visibleSeq,
// searching the memtable, then every L0 table, then deeper levels.
func (d *DB) findLocked(key []byte, visibleSeq base.SeqNum) (record, bool, error) {
	var best record
	var found bool
	consider := func(r record) {
		if r.seq <= visibleSeq && (!found || r.seq > best.seq) {
			best, found = r, true
		}
	}
	for _, r := range d.mu.memtable {
		if bytes.Equal(r.key, key) {
			consider(r)
		}
	}
	if found {
		return best, true, nil
	}
	for _, t := range d.mu.levels[0] {
		recs, err := t.load()
		if err != nil {
			return record{}, false, err
		}
		for _, r := range recs {
			if bytes.Equal(r.key, key) {
				consider(r)
			}
		}
	}
	if found {
		return best, true, nil
	}
	for level := 1; level < len(d.mu.levels); level++ {
		for _, t := range d.mu.levels[level] {
			if !t.containsKey(key) {
				continue
			}
			recs, err := t.load()
			if err != nil {
				return record{}, false, err
			}
			for _, r := range recs {
				if bytes.Equal(r.key, key) {
					consider(r)
				}
			}
		}
		if found {
			return best, true, nil
		}
	}
	return record{}, false, nil
}

// ScanVisible returns every visible key (in key order) with its value, as
// of snapshot s; a nil snapshot reads the current state. It applies the
// same visibility filtering as Get at each position.
func (d *DB) ScanVisible(s *Snapshot) ([][2][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	visibleSeq := d.mu.seq
	if s != nil {
		visibleSeq = s.seq
	}

	keys := make(map[string]struct{})
	collect := func(recs []record) {
		for _, r := range recs {
			keys[string(r.key)] = struct{}{}
		}
	}
	collect(d.mu.memtable)
	for _, level := range d.mu.levels {
		for _, t := range level {
			recs, err := t.load()
			if err != nil {
				return nil, err
			}
			collect(recs)
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sortStrings(sorted)

	var out [][2][]byte
	for _, k := range sorted {
		v, err := d.getLocked([]byte(k), visibleSeq)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, [2][]byte{[]byte(k), v})
	}
	return out, nil
}

// Flush writes the memtable out as a new L0 table, registering the CUIDs
// it contains before the table becomes visible to readers.
func (d *DB) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mu.memtable) == 0 {
		return nil
	}
	recs := sortRecords(d.mu.memtable)
	t, err := buildTable(d.nextPhysIDLocked(), recs, d.mgr)
	if err != nil {
		return err
	}
	d.mgr.RegisterFileRefs(t.physID, t.cuids)
	d.mu.levels[0] = append(d.mu.levels[0], t)
	d.mu.memtable = nil
	return nil
}

// NumFiles returns the table count at the given level.
func (d *DB) NumFiles(level int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mu.levels[level])
}

// earliestSnapshotLocked returns the lowest pinned snapshot sequence, or
// base.SeqNumMax when no snapshot is open.
func (d *DB) earliestSnapshotLocked() base.SeqNum {
	earliest := base.SeqNumMax
	for s := range d.mu.snapshots {
		if s.seq < earliest {
			earliest = s.seq
		}
	}
	return earliest
}

// snapshotSeqsLocked returns the pinned snapshot sequences in descending
// order.
func (d *DB) snapshotSeqsLocked() []base.SeqNum {
	seqs := make([]base.SeqNum, 0, len(d.mu.snapshots))
	for s := range d.mu.snapshots {
		seqs = append(seqs, s.seq)
	}
	sortSeqsDesc(seqs)
	return seqs
}

func (d *DB) nextPhysIDLocked() base.PhysicalID {
	id := d.mu.nextPhysID
	d.mu.nextPhysID++
	return id
}
