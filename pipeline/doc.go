// Package pipeline models a pipeline as a graph of blocks.
//
// Blocks live in namespaces (blocks, callbacks, widgets and extension
// groups) that share one uuid space; edges may cross namespaces and the
// union must stay acyclic. Every structural mutation (AddBlock,
// UpdateEdges, Rename, UpdateType, Delete) re-validates the graph and is
// rolled back when validation fails, so a rejected call never leaves a
// partially applied change behind.
//
// Execution strategies are resolved once per block through an
// executor.Registry when the block is admitted.
//
// Pipelines round-trip through the YAML Document form; Repository stores
// documents in object storage and guards saves with a revision check.
package pipeline
