// Package executor is the block execution collaborator the scheduler calls.
//
// A Strategy turns a block's source and upstream inputs into outputs. The
// Registry maps (block type, language) pairs to strategies with wildcard
// fallbacks; blocks resolve their strategy once when admitted to a
// pipeline. Func and Simple adapt in-process Go functions; Subprocess runs
// an external interpreter with a JSON envelope over stdin/stdout.
//
// Decorators compose:
//
//	s := executor.WithLogging(executor.WithTracing(executor.NewSubprocess(cmd, runner)), log)
//	registry.Register(executor.Wildcard, "python", executor.Limit(s, 4))
package executor
