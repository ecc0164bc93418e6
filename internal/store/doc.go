// Package store provides SQLite-backed durable state for one sync site.
//
// The store holds:
//   - Records: the replicated rows, one per (table, id), as canonical JSON
//   - Changelog: one entry per mutation, keyed by a site-wide sequence
//   - Sync buffer: peer records staged for integration, with per-record status
//   - Cursors: pull and push checkpoints per peer
//   - Sessions: the log of sync runs and the cross-process session lease
//
// # Guarantees
//
// Atomic capture:
//   - Upsert and Delete write the row and its changelog entry in one
//     transaction, carrying the write's Provenance into the entry
//   - Writing an identical row, or deleting an absent one, appends nothing
//
// Checkpoints:
//   - StagePage persists a page and advances its cursor in one transaction
//   - Cursors never decrease
//
// Ordering:
//   - All ordering uses the changelog sequence or buffer id, never timestamps
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
