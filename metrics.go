// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hotspot

import (
	"sync/atomic"

	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the manager's cumulative event counters. Counters are
// updated atomically outside the table's locks.
type Metrics struct {
	// DeletesIntercepted counts deletes diverted from tombstone creation
	// into logical-delete records.
	DeletesIntercepted atomic.Uint64
	// FileRefsAdded counts new (CUID, file) registrations.
	FileRefsAdded atomic.Uint64
	// CompactionUpdates counts applied compaction accounting updates.
	CompactionUpdates atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of a Manager's metrics, including
// gauges derived from the table.
type MetricsSnapshot struct {
	DeletesIntercepted uint64
	FileRefsAdded      uint64
	CompactionUpdates  uint64
	// TrackedCUIDs is the number of CUIDs currently present in the table.
	TrackedCUIDs uint64
	// ReclaimedEntries is the cumulative number of table entries erased
	// after their last file reference was compacted away.
	ReclaimedEntries uint64
}

func (s MetricsSnapshot) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s MetricsSnapshot) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("tracked: %s, intercepted: %s, refs-added: %s, compactions: %s, reclaimed: %s",
		crhumanize.Count(s.TrackedCUIDs, crhumanize.Compact),
		crhumanize.Count(s.DeletesIntercepted, crhumanize.Compact),
		crhumanize.Count(s.FileRefsAdded, crhumanize.Compact),
		crhumanize.Count(s.CompactionUpdates, crhumanize.Compact),
		crhumanize.Count(s.ReclaimedEntries, crhumanize.Compact))
}

var (
	descTrackedCUIDs = prometheus.NewDesc(
		"hotspot_tracked_cuids",
		"Number of collection units currently tracked by the delete-count table.",
		nil, nil)
	descDeletesIntercepted = prometheus.NewDesc(
		"hotspot_deletes_intercepted_total",
		"Deletes intercepted and recorded as logical deletes instead of tombstones.",
		nil, nil)
	descFileRefsAdded = prometheus.NewDesc(
		"hotspot_file_refs_added_total",
		"New (collection unit, file) registrations.",
		nil, nil)
	descCompactionUpdates = prometheus.NewDesc(
		"hotspot_compaction_updates_total",
		"Compaction accounting updates applied to the delete-count table.",
		nil, nil)
	descReclaimedEntries = prometheus.NewDesc(
		"hotspot_reclaimed_entries_total",
		"Delete-count table entries reclaimed after their last file was compacted away.",
		nil, nil)
)

// Collector adapts a Manager's metrics to the prometheus.Collector
// interface.
type Collector struct {
	m *Manager
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a prometheus collector exporting m's metrics.
func NewCollector(m *Manager) *Collector {
	return &Collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descTrackedCUIDs
	ch <- descDeletesIntercepted
	ch <- descFileRefsAdded
	ch <- descCompactionUpdates
	ch <- descReclaimedEntries
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Metrics()
	ch <- prometheus.MustNewConstMetric(descTrackedCUIDs, prometheus.GaugeValue, float64(s.TrackedCUIDs))
	ch <- prometheus.MustNewConstMetric(descDeletesIntercepted, prometheus.CounterValue, float64(s.DeletesIntercepted))
	ch <- prometheus.MustNewConstMetric(descFileRefsAdded, prometheus.CounterValue, float64(s.FileRefsAdded))
	ch <- prometheus.MustNewConstMetric(descCompactionUpdates, prometheus.CounterValue, float64(s.CompactionUpdates))
	ch <- prometheus.MustNewConstMetric(descReclaimedEntries, prometheus.CounterValue, float64(s.ReclaimedEntries))
}
