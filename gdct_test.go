// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hotspot/internal/base"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

func TestDeleteCountTable(t *testing.T) {
	defer leaktest.AfterTest(t)()

	var table *DeleteCountTable
	datadriven.RunTest(t, "testdata/gdct", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "reset":
			table = NewDeleteCountTable()
			return ""

		case "track":
			cuid := cuidArg(t, td, "cuid")
			physID := physIDArg(t, td, "file")
			if table.TrackPhysicalUnit(cuid, physID) {
				return "added"
			}
			return "already-present"

		case "untrack":
			table.UntrackPhysicalUnit(cuidArg(t, td, "cuid"), physIDArg(t, td, "file"))
			return dumpTable(table)

		case "untrack-files":
			table.UntrackFiles(cuidArg(t, td, "cuid"), physIDListArg(t, td, "files"))
			return dumpTable(table)

		case "mark-deleted":
			table.MarkDeleted(cuidArg(t, td, "cuid"), seqNumArg(t, td, "seq"))
			return dumpTable(table)

		case "is-deleted":
			v := table.IsDeleted(
				cuidArg(t, td, "cuid"), seqNumArg(t, td, "visible"), seqNumArg(t, td, "found"))
			return fmt.Sprint(v)

		case "delete-seq":
			return table.GetDeleteSequence(cuidArg(t, td, "cuid")).String()

		case "refcount":
			return fmt.Sprint(table.GetRefCount(cuidArg(t, td, "cuid")))

		case "tracked":
			return fmt.Sprint(table.IsTracked(cuidArg(t, td, "cuid")))

		case "compaction":
			// Input lines of the form:
			//   input file=N cuids=(...)   a consumed file and its cuids
			//   output file=N cuids=(...)  a produced file and its cuids
			// Example:
			//   input file=5 cuids=(1,2)
			//   output file=7 cuids=(1)
			var involved []base.CUID
			var inputs []base.PhysicalID
			outputs := map[base.PhysicalID][]base.CUID{}
			for _, line := range strings.Split(strings.TrimSpace(td.Input), "\n") {
				fields := strings.Fields(line)
				require.Len(t, fields, 3, "expected `input|output file=N cuids=(..)`: %q", line)
				physID := base.PhysicalID(parseUint(t, strings.TrimPrefix(fields[1], "file=")))
				cuids := parseCUIDList(t, strings.TrimPrefix(fields[2], "cuids="))
				switch fields[0] {
				case "input":
					inputs = append(inputs, physID)
					for _, cuid := range cuids {
						if !slices.Contains(involved, cuid) {
							involved = append(involved, cuid)
						}
					}
				case "output":
					outputs[physID] = cuids
				default:
					t.Fatalf("unknown compaction line %q", line)
				}
			}
			table.ApplyCompactionUpdate(involved, inputs, outputs)
			return dumpTable(table)

		case "dump":
			return dumpTable(table)

		default:
			return fmt.Sprintf("unrecognized command %q", td.Cmd)
		}
	})
}

func dumpTable(t *DeleteCountTable) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	type row struct {
		cuid base.CUID
		e    *cuidEntry
	}
	var rows []row
	t.table.All(func(cuid base.CUID, e *cuidEntry) bool {
		rows = append(rows, row{cuid, e})
		return true
	})
	slices.SortFunc(rows, func(a, b row) int {
		return int(a.cuid) - int(b.cuid)
	})
	if len(rows) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for _, r := range rows {
		ids := make([]base.PhysicalID, 0, len(r.e.physIDs))
		for id := range r.e.physIDs {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = id.String()
		}
		fmt.Fprintf(&sb, "%s: files=[%s] deleted=%t seq=%s\n",
			r.cuid, strings.Join(strs, " "), r.e.deleted, r.e.deletedSeqNum)
	}
	return sb.String()
}

func parseUint(t testing.TB, s string) uint64 {
	t.Helper()
	v, err := strconv.ParseUint(s, 10, 64)
	require.NoError(t, err)
	return v
}

func stringArg(t testing.TB, td *datadriven.TestData, name string) string {
	t.Helper()
	arg, ok := td.Arg(name)
	if !ok {
		t.Fatalf("%s: missing argument %q", td.Pos, name)
	}
	require.Len(t, arg.Vals, 1)
	return arg.Vals[0]
}

func cuidArg(t testing.TB, td *datadriven.TestData, name string) base.CUID {
	return base.CUID(parseUint(t, stringArg(t, td, name)))
}

func physIDArg(t testing.TB, td *datadriven.TestData, name string) base.PhysicalID {
	return base.PhysicalID(parseUint(t, stringArg(t, td, name)))
}

func seqNumArg(t testing.TB, td *datadriven.TestData, name string) base.SeqNum {
	return base.ParseSeqNum(stringArg(t, td, name))
}

func physIDListArg(t testing.TB, td *datadriven.TestData, name string) []base.PhysicalID {
	t.Helper()
	arg, ok := td.Arg(name)
	if !ok {
		t.Fatalf("%s: missing argument %q", td.Pos, name)
	}
	ids := make([]base.PhysicalID, len(arg.Vals))
	for i, v := range arg.Vals {
		ids[i] = base.PhysicalID(parseUint(t, v))
	}
	return ids
}

func parseCUIDList(t testing.TB, s string) []base.CUID {
	t.Helper()
	s = strings.TrimPrefix(strings.TrimSuffix(s, ")"), "(")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	cuids := make([]base.CUID, len(parts))
	for i, p := range parts {
		cuids[i] = base.CUID(parseUint(t, strings.TrimSpace(p)))
	}
	return cuids
}

// Registering the same file twice must leave the set unchanged and signal
// the duplicate, so callers never double-increment external refcounts.
func TestTrackIdempotent(t *testing.T) {
	defer leaktest.AfterTest(t)()
	table := NewDeleteCountTable()
	require.True(t, table.TrackPhysicalUnit(7, 101))
	require.False(t, table.TrackPhysicalUnit(7, 101))
	require.Equal(t, 1, table.GetRefCount(7))
	require.True(t, table.TrackPhysicalUnit(7, 102))
	require.Equal(t, 2, table.GetRefCount(7))
}

// A delete and a registration may arrive in either order for the same
// CUID; both orders must reach the same entry state.
func TestLazyCreationCommutes(t *testing.T) {
	defer leaktest.AfterTest(t)()

	a := NewDeleteCountTable()
	a.MarkDeleted(9, 42)
	a.TrackPhysicalUnit(9, 3)

	b := NewDeleteCountTable()
	b.TrackPhysicalUnit(9, 3)
	b.MarkDeleted(9, 42)

	for _, table := range []*DeleteCountTable{a, b} {
		require.True(t, table.IsTracked(9))
		require.Equal(t, 1, table.GetRefCount(9))
		require.Equal(t, base.SeqNum(42), table.GetDeleteSequence(9))
	}
}

func TestDeleteSequenceMonotonic(t *testing.T) {
	defer leaktest.AfterTest(t)()
	table := NewDeleteCountTable()
	table.MarkDeleted(5, 100)
	table.MarkDeleted(5, 90)
	require.Equal(t, base.SeqNum(100), table.GetDeleteSequence(5))
	table.MarkDeleted(5, 110)
	require.Equal(t, base.SeqNum(110), table.GetDeleteSequence(5))
}

// A put that lands on the same sequence number as the delete (one write
// batch, one logical tick) must stay visible: the predicate shadows only
// data strictly older than the delete.
func TestReinsertionAtDeleteTick(t *testing.T) {
	defer leaktest.AfterTest(t)()
	table := NewDeleteCountTable()
	table.TrackPhysicalUnit(4, 1)
	table.MarkDeleted(4, 50)

	require.True(t, table.IsDeleted(4, 50, 49))
	require.False(t, table.IsDeleted(4, 50, 50))
	require.False(t, table.IsDeleted(4, 60, 55))
	// Readers with snapshots before the delete see everything.
	require.False(t, table.IsDeleted(4, 49, 10))
}

// Hammer the table from concurrent writers and readers. The test asserts
// only invariants: refcounts never go negative, reads never panic, and every
// CUID that reads as deleted is still tracked with a real delete sequence.
func TestConcurrentTableStress(t *testing.T) {
	defer leaktest.AfterTest(t)()

	table := NewDeleteCountTable()
	const cuids = 8
	const workers = 4
	const opsPerWorker = 2000

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		rng := rand.New(rand.NewSource(uint64(w) + 1))
		g.Go(func() error {
			for i := 0; i < opsPerWorker; i++ {
				cuid := base.CUID(uint64(rng.Intn(cuids)) + 1)
				physID := base.PhysicalID(uint64(rng.Intn(64)) + 1)
				switch rng.Intn(5) {
				case 0:
					table.TrackPhysicalUnit(cuid, physID)
				case 1:
					table.UntrackPhysicalUnit(cuid, physID)
				case 2:
					table.MarkDeleted(cuid, base.SeqNum(rng.Intn(1000)))
				case 3:
					table.IsDeleted(cuid, base.SeqNum(rng.Intn(1000)), base.SeqNum(rng.Intn(1000)))
				case 4:
					table.ApplyCompactionUpdate(
						[]base.CUID{cuid},
						[]base.PhysicalID{physID},
						map[base.PhysicalID][]base.CUID{physID + 64: {cuid}},
					)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for cuid := base.CUID(1); cuid <= cuids; cuid++ {
		require.GreaterOrEqual(t, table.GetRefCount(cuid), 0)
		if table.IsDeleted(cuid, base.SeqNumMax, 0) {
			require.NotEqual(t, base.SeqNumMax, table.GetDeleteSequence(cuid))
			require.True(t, table.IsTracked(cuid))
		}
	}
}
