// Package errors provides the structured error type shared by every blockflow
// package. Each AppError carries a machine-readable code, a retryable flag and
// the identifiers (block, partition, cycle path, counts) needed to reproduce
// and fix the failure without re-deriving engine state.
package errors
