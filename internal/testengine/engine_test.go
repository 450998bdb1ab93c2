// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package testengine

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/hotspot/internal/base"
	"github.com/cockroachdb/hotspot/internal/testutils"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, opts Options) *DB {
	t.Helper()
	opts.Hotspot.Logger = testutils.Logger{T: t}
	d, err := Open(opts)
	require.NoError(t, err)
	return d
}

// requireRefCountsMatchDisk asserts that for every CUID found in a live
// file the table's refcount equals the number of live files whose keys
// contain it. Tracked CUIDs with no live file are not checked.
func requireRefCountsMatchDisk(t *testing.T, d *DB) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	onDisk := make(map[base.CUID]int)
	for _, level := range d.mu.levels {
		for _, tbl := range level {
			for _, cuid := range tbl.cuids {
				onDisk[cuid]++
			}
		}
	}
	table := d.mgr.DeleteTable()
	for cuid, n := range onDisk {
		require.Equal(t, n, table.GetRefCount(cuid), "refcount mismatch for %s", cuid)
	}
}

func TestFlushRegistration(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set(Key(100, "1"), []byte("v"))
	require.Equal(t, 0, d.Manager().DeleteTable().GetRefCount(100))

	require.NoError(t, d.Flush())
	require.Equal(t, 1, d.Manager().DeleteTable().GetRefCount(100))
	require.Equal(t, 1, d.NumFiles(0))
	requireRefCountsMatchDisk(t, d)
}

func TestLogicalDeleteWithoutTombstone(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set(Key(100, "1"), []byte("v1"))
	require.NoError(t, d.Flush())

	d.Delete(Key(100, "1"))

	_, err := d.Get(Key(100, "1"))
	require.ErrorIs(t, err, ErrNotFound)

	table := d.Manager().DeleteTable()
	require.Equal(t, 1, table.GetRefCount(100))
	require.NotEqual(t, base.SeqNumMax, d.Manager().GetDeleteSequence(100))

	// No tombstone reached the memtable, and the physical key-value is
	// still present in the flushed table.
	d.mu.Lock()
	require.Empty(t, d.mu.memtable)
	recs, err := d.mu.levels[0][0].load()
	d.mu.Unlock()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, Key(100, "1"), recs[0].key)
}

func TestTrivialMove(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set(Key(200, "1"), []byte("v"))
	require.NoError(t, d.Flush())
	require.Equal(t, 1, d.NumFiles(0))

	require.NoError(t, d.Compact(0))
	require.Equal(t, 0, d.NumFiles(0))
	require.Equal(t, 1, d.NumFiles(1))
	require.Equal(t, 1, d.Manager().DeleteTable().GetRefCount(200))
	requireRefCountsMatchDisk(t, d)

	v, err := d.Get(Key(200, "1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestFullGC(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	for i := 0; i < 10; i++ {
		d.Set(Key(300, fmt.Sprintf("%03d", i)), []byte("old"))
	}
	require.NoError(t, d.Flush())
	require.NoError(t, d.Compact(0)) // trivial move to L1

	for i := 0; i < 10; i++ {
		d.Set(Key(300, fmt.Sprintf("%03d", i)), []byte("new"))
	}
	require.NoError(t, d.Flush())
	require.Equal(t, 2, d.Manager().DeleteTable().GetRefCount(300))

	d.Delete(Key(300, "000"))
	require.True(t, d.Manager().DeleteTable().IsTracked(300))

	// Merging L0 into L1 consumes both files; every key is shadowed by the
	// delete and no snapshot protects them, so no output contains the CUID
	// and its entry is reclaimed.
	require.NoError(t, d.Compact(0))
	require.False(t, d.Manager().DeleteTable().IsTracked(300))
	require.Equal(t, 0, d.NumFiles(0))
	require.Equal(t, 0, d.NumFiles(1))

	_, err := d.Get(Key(300, "000"))
	require.ErrorIs(t, err, ErrNotFound)
	requireRefCountsMatchDisk(t, d)
}

func TestSplitOutput(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{TargetFileSize: 32 << 10})

	// 2 MB under one CUID across two overlapping flushes forces a real
	// merge that splits at the target output size.
	value := make([]byte, 8<<10)
	for i := 0; i < 128; i++ {
		d.Set(Key(400, fmt.Sprintf("%04d", i)), value)
	}
	require.NoError(t, d.Flush())
	for i := 0; i < 128; i++ {
		d.Set(Key(400, fmt.Sprintf("%04d", i)), value)
	}
	require.NoError(t, d.Flush())

	require.NoError(t, d.Compact(0))
	outs := d.NumFiles(1)
	require.Greater(t, outs, 1)
	require.Equal(t, outs, d.Manager().DeleteTable().GetRefCount(400))
	requireRefCountsMatchDisk(t, d)
}

func TestTimeTravel(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	const n = 1000
	for i := 0; i < n; i++ {
		d.Set(Key(500, fmt.Sprintf("%04d", i)), []byte("v"))
	}
	require.NoError(t, d.Flush())

	snap := d.NewSnapshot()
	defer snap.Close()
	d.Delete(Key(500, "0000"))

	// The snapshot predates the delete and sees every key.
	for i := 0; i < n; i += 97 {
		_, err := d.GetAt(Key(500, fmt.Sprintf("%04d", i)), snap)
		require.NoError(t, err)
	}
	visible, err := d.ScanVisible(snap)
	require.NoError(t, err)
	require.Len(t, visible, n)

	// Without a snapshot the collection is gone.
	visible, err = d.ScanVisible(nil)
	require.NoError(t, err)
	require.Empty(t, visible)
}

func TestMVCCChaos(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	key := Key(600, "k")
	d.Set(key, []byte("v1"))
	s1 := d.NewSnapshot()
	defer s1.Close()
	d.Set(key, []byte("v2"))
	s2 := d.NewSnapshot()
	defer s2.Close()
	d.Delete(key)
	s3 := d.NewSnapshot()
	defer s3.Close()
	d.Set(key, []byte("v4"))
	s4 := d.NewSnapshot()
	defer s4.Close()

	check := func() {
		v, err := d.GetAt(key, s1)
		require.NoError(t, err)
		require.Equal(t, []byte("v1"), v)

		v, err = d.GetAt(key, s2)
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), v)

		_, err = d.GetAt(key, s3)
		require.ErrorIs(t, err, ErrNotFound)

		v, err = d.GetAt(key, s4)
		require.NoError(t, err)
		require.Equal(t, []byte("v4"), v)
	}

	check()
	require.NoError(t, d.Flush())
	check()
	require.NoError(t, d.Compact(0))
	check()
	requireRefCountsMatchDisk(t, d)
}

// Re-populating a deleted collection at higher sequence numbers must
// survive both reads and compactions.
func TestReinsertionSurvivesCompaction(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set(Key(700, "a"), []byte("old"))
	require.NoError(t, d.Flush())
	d.Delete(Key(700, "a"))
	d.Set(Key(700, "a"), []byte("fresh"))
	d.Set(Key(700, "b"), []byte("fresh"))
	require.NoError(t, d.Flush())

	require.NoError(t, d.Compact(0))
	v, err := d.Get(Key(700, "a"))
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), v)
	v, err = d.Get(Key(700, "b"))
	require.NoError(t, err)
	require.Equal(t, []byte("fresh"), v)
	requireRefCountsMatchDisk(t, d)
}

// A delete that lands while data is only in the memtable: the flush then
// registers the file, and reads still hide the shadowed data.
func TestDeleteBeforeFlush(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set(Key(800, "a"), []byte("v"))
	d.Delete(Key(800, "a"))
	require.NoError(t, d.Flush())

	require.Equal(t, 1, d.Manager().DeleteTable().GetRefCount(800))
	_, err := d.Get(Key(800, "a"))
	require.ErrorIs(t, err, ErrNotFound)

	// The shadowed datum compacts away and the entry is reclaimed.
	require.NoError(t, d.Compact(0))
	require.NoError(t, d.Compact(1))
	require.False(t, d.Manager().DeleteTable().IsTracked(800))
}

func TestTombstonePathForUntaggedKeys(t *testing.T) {
	defer leaktest.AfterTest(t)()
	d := open(t, Options{})

	d.Set([]byte("plain"), []byte("v"))
	d.Delete([]byte("plain"))
	_, err := d.Get([]byte("plain"))
	require.ErrorIs(t, err, ErrNotFound)

	// The delete went through the normal tombstone path; nothing was
	// recorded in the delete-count table.
	require.Equal(t, 0, d.Manager().DeleteTable().NumTracked())

	require.NoError(t, d.Flush())
	require.NoError(t, d.Compact(0))
	require.NoError(t, d.Compact(1))
	_, err = d.Get([]byte("plain"))
	require.ErrorIs(t, err, ErrNotFound)
	// Tombstone and shadowed value were both elided at the bottom level.
	require.Equal(t, 0, d.NumFiles(2))
}
