// Package dynamic expands dynamic blocks at run time.
//
// A dynamic producer writes a list as its output_0; every block downstream
// of it runs once per item. The Expander polls until the producer's items
// exist, takes the cross product of all fanning-out upstreams, records one
// child run per combination under block:<suffix> and later tells the
// scheduler when every child of an upstream has completed. A producer can
// steer a child's suffix and bindings through per-item maps in output_1
// (keys block_uuid and upstream_block_uuids); remaining keys are inherited
// as run metadata.
//
// Polling is bounded by Config. An upstream that never materializes is
// treated as having produced zero items.
package dynamic
