package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Graph invariant violations. Always rejected before a mutation commits.
const (
	// ErrCodeCycleDetected indicates an edge change would make the graph cyclic.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"
	// ErrCodeMultipleDynamicUpstreams indicates a block would gain a second dynamic producer upstream.
	ErrCodeMultipleDynamicUpstreams ErrorCode = "MULTIPLE_DYNAMIC_UPSTREAMS"
	// ErrCodeDuplicateBlock indicates a block uuid is already present in the pipeline.
	ErrCodeDuplicateBlock ErrorCode = "DUPLICATE_BLOCK"
	// ErrCodeHasDownstream indicates a block with dependents was deleted without force.
	ErrCodeHasDownstream ErrorCode = "HAS_DOWNSTREAM"
	// ErrCodeHasReplicas indicates a block that other blocks replicate was deleted without force.
	ErrCodeHasReplicas ErrorCode = "HAS_REPLICAS"
	// ErrCodeBlockNotFound indicates a referenced block does not exist.
	ErrCodeBlockNotFound ErrorCode = "BLOCK_NOT_FOUND"
	// ErrCodeIdentityMismatch indicates a serialized block set differs from the in-memory set.
	ErrCodeIdentityMismatch ErrorCode = "IDENTITY_MISMATCH"
	// ErrCodeRevisionConflict indicates the persisted pipeline changed since it was loaded.
	ErrCodeRevisionConflict ErrorCode = "REVISION_CONFLICT"
)

// Execution validation errors. Surfaced to the caller, never retried.
const (
	// ErrCodeUpstreamNotExecuted indicates a block was run before its upstreams.
	ErrCodeUpstreamNotExecuted ErrorCode = "UPSTREAM_NOT_EXECUTED"
	// ErrCodeArgumentMismatch indicates the upstream bindings do not match the block's arity.
	ErrCodeArgumentMismatch ErrorCode = "ARGUMENT_MISMATCH"
	// ErrCodeNoStrategy indicates no execution strategy is registered for a block.
	ErrCodeNoStrategy ErrorCode = "NO_STRATEGY"
	// ErrCodeExecutionFailed indicates the block's code raised an error.
	ErrCodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	// ErrCodeTestsFailed indicates one or more post-execution tests failed.
	ErrCodeTestsFailed ErrorCode = "TESTS_FAILED"
)

// Scheduling errors.
const (
	// ErrCodeSchedulingStarved indicates a block exhausted its readiness retry budget.
	ErrCodeSchedulingStarved ErrorCode = "SCHEDULING_STARVED"
)

// Storage errors.
const (
	// ErrCodeVariableNotFound indicates a strict read of a variable with no backing data.
	ErrCodeVariableNotFound ErrorCode = "VARIABLE_NOT_FOUND"
	// ErrCodeSerializationFailed indicates a value could not be encoded or decoded.
	ErrCodeSerializationFailed ErrorCode = "SERIALIZATION_FAILED"
	// ErrCodeStorage indicates the storage backend failed.
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"
)

// Generic errors.
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeStorage: true,
	ErrCodeTimeout: true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
