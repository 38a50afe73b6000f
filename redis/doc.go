// Package redis wraps go-redis with logging, key namespacing and a typed
// hash store. The Redis run store keeps one hash per pipeline run with one
// field per block run.
package redis
