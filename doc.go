// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package hotspot implements bulk logical deletion and reference tracking
// for keys sharing a collection unit identifier (CUID), layered onto a
// log-structured merge-tree engine.
//
// Keys embed a 64-bit CUID at a fixed offset. Deleting a collection writes
// no tombstones: the delete is intercepted on the write path and recorded
// in a global delete-count table as a (deleted, sequence number) pair. The
// read path consults the table to hide data written before the delete from
// readers whose snapshots are at or after it, preserving MVCC snapshot
// isolation; snapshots taken before the delete continue to observe the
// data, and re-inserting a collection after deleting it behaves exactly as
// if tombstones had been written.
//
// The same table drives physical reclamation. Every sstable containing a
// collection's keys is registered against the collection; compactions drop
// keys shadowed by a logical delete and report their file accounting back
// to the table, so a deleted collection's registrations drain as ordinary
// compaction work rewrites the files that contain it. When the last file
// is retired the table entry itself is reclaimed.
//
// The table is in-memory only. After a restart the embedding engine
// reconstructs it by enumerating live sstables and replaying logical
// deletes from its own journal.
//
// [Manager] is the integration surface for a host engine; hooks.go
// documents the five hook points an engine must wire. [DeleteCountTable]
// is the underlying structure, exposed for diagnostics.
package hotspot // import "github.com/cockroachdb/hotspot"
