// Package blockrun models the concrete executions of blocks within a
// pipeline run and persists them.
//
// A run is identified by its block uuid, or base:suffix for runs created by
// dynamic expansion. Its role (original, controller clone, spawned child)
// is never stored: Classify derives it from the run uuid, the block's traits
// and the recorded metrics.
//
// Three stores share the Store contract: MemoryStore for single-process
// runs, RedisStore for runs shared across processes and SQLStore for a
// durable history in the block_runs table.
package blockrun
