// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/hotspot"
	"github.com/cockroachdb/hotspot/internal/base"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

var benchConfig struct {
	ops   int
	cuids int
	files int
	seed  uint64
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "micro-benchmark the delete-count table operations",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchConfig.ops, "ops", 1_000_000,
		"number of operations per operation type")
	benchCmd.Flags().IntVar(&benchConfig.cuids, "cuids", 10_000,
		"number of distinct collection identifiers")
	benchCmd.Flags().IntVar(&benchConfig.files, "files", 100_000,
		"number of distinct physical file identifiers")
	benchCmd.Flags().Uint64Var(&benchConfig.seed, "seed", 1589,
		"pseudorandom seed")
}

const (
	minLatency = time.Microsecond
	maxLatency = 10 * time.Second
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 1)
}

func runBench(cmd *cobra.Command, args []string) error {
	table := hotspot.NewDeleteCountTable()
	rng := rand.New(rand.NewSource(benchConfig.seed))
	randCUID := func() base.CUID {
		return base.CUID(rng.Intn(benchConfig.cuids) + 1)
	}
	randPhysID := func() base.PhysicalID {
		return base.PhysicalID(rng.Intn(benchConfig.files) + 1)
	}

	benchOps := []struct {
		name string
		op   func()
	}{
		{"track", func() { table.TrackPhysicalUnit(randCUID(), randPhysID()) }},
		{"mark-deleted", func() { table.MarkDeleted(randCUID(), base.SeqNum(rng.Uint64())) }},
		{"is-deleted", func() {
			table.IsDeleted(randCUID(), base.SeqNum(rng.Uint64()), base.SeqNum(rng.Uint64()))
		}},
		{"refcount", func() { table.GetRefCount(randCUID()) }},
		{"untrack", func() { table.UntrackPhysicalUnit(randCUID(), randPhysID()) }},
		{"compaction-update", func() {
			in := randPhysID()
			cuid := randCUID()
			table.ApplyCompactionUpdate(
				[]base.CUID{cuid},
				[]base.PhysicalID{in},
				map[base.PhysicalID][]base.CUID{randPhysID(): {cuid}},
			)
		}},
	}

	out := tablewriter.NewWriter(os.Stdout)
	out.SetHeader([]string{"op", "ops", "p50", "p95", "p99", "max"})
	for _, b := range benchOps {
		h := newHistogram()
		for i := 0; i < benchConfig.ops; i++ {
			start := time.Now()
			b.op()
			_ = h.RecordValue(time.Since(start).Nanoseconds())
		}
		out.Append([]string{
			b.name,
			fmt.Sprint(benchConfig.ops),
			formatNanos(h.ValueAtQuantile(50)),
			formatNanos(h.ValueAtQuantile(95)),
			formatNanos(h.ValueAtQuantile(99)),
			formatNanos(h.Max()),
		})
	}
	out.Render()
	fmt.Printf("tracked CUIDs at end: %d\n", table.NumTracked())
	return nil
}

func formatNanos(n int64) string {
	return time.Duration(n).Round(10 * time.Nanosecond).String()
}
