// Package backend defines the storage contract behind the bus: atomic
// increment-and-append publish, per-channel and global backlog range reads,
// latest-id queries, and a notification stream that wakes dispatchers when
// any publisher (local or remote) appends a message.
//
// Three implementations live in subpackages:
//   - memory: bounded in-process ring backlogs, single-process only.
//   - pebble: durable embedded store, survives process restart.
//   - redis: shared store, fans out across processes via Redis pub/sub.
//
// The backend exclusively owns the sequence counters and backlog storage.
// Everything above it holds only transient, rebuildable state.
package backend
