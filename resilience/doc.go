// Package resilience holds the retry and bulkhead primitives the engine
// uses: the scheduler bounds block execution with a queueing Bulkhead, the
// dynamic expander polls for upstream outputs with Poll, and database
// connections are retried with Retry.
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{Name: "blocks", MaxConcurrent: 4, Queue: true})
//	err := bh.Execute(ctx, func() error { return run(ctx) })
//
//	err = resilience.Poll(ctx, resilience.FixedDelayConfig(12, 10*time.Second), func() (bool, error) {
//		return outputsReady(ctx)
//	})
package resilience
