// Package memory implements the bus backend with bounded in-process
// backlogs. It has no external dependency and no durability: counters and
// history reset with the process. Suitable for single-process deployments
// and tests.
package memory
