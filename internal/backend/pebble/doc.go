// Package pebble implements the bus backend on an embedded Pebble store.
// Counters and backlogs survive process restart; fan-out to other processes
// is not provided (the store is embedded), so it suits single-node
// deployments that need durable cursors and replay.
//
// Keyspace (byte-wise, lexicographically sortable):
//   - ch/{len_be4}{channel}/m            (channel meta: lastID, retained count)
//   - ch/{len_be4}{channel}/e/{seq_be8}  (channel backlog entries)
//   - g/m                                (global meta: lastID, retained count)
//   - g/e/{seq_be8}                      (global backlog entries)
//
// The channel name is length-prefixed so names containing '/' cannot collide
// with another channel's entry or meta ranges.
//
// Records are stored as: varint headerLen | header | payload | crc32c.
// The header carries the message envelope (ids, channel, targeting) as JSON;
// the payload is the application data.
package pebble
