// Package redis implements the bus backend on a shared Redis store. It
// works across processes and hosts: ids come from Redis counters, backlogs
// are Redis lists trimmed on every publish, and Redis pub/sub propagates the
// wake-up signal so long-poll connections in other processes see new
// messages without polling the store.
//
// A single Lua script makes the publish atomic: it increments the global and
// per-channel counters, stamps both ids into the message, pushes it onto the
// channel and global backlog lists, trims both, and publishes the wake-up.
package redis
