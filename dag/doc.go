// Package dag schedules the blocks of a pipeline in dependency order.
//
// One readiness loop serves both strategies. A block is popped from the
// queue and dispatched once every upstream inside the run has resolved and
// every upstream outside it has a completed run. Blocks that are not ready
// are requeued; a pass in which nothing can move charges one attempt to
// each queued block, and a block that exhausts its retry budget aborts the
// run with SCHEDULING_STARVED.
//
//   - concurrent: each ready block executes on its own goroutine, bounded
//     by a bulkhead of max_parallel slots.
//   - sequential: each block executes, tests included, before the next pop.
//
// A failed block only cuts off its downstream blocks, which resolve as
// upstream_failed. Blocks downstream of a dynamic producer expand into one
// child run per item through the dynamic package.
package dag
