package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError is the unified engine error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains the identifiers needed to reproduce the failure.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Graph invariant violations ---

// CycleDetected reports the cycle path, first node repeated at the end.
func CycleDetected(path []string) *AppError {
	return &AppError{
		Code:    ErrCodeCycleDetected,
		Message: fmt.Sprintf("Block dependency cycle detected: %s", strings.Join(path, " -> ")),
		Details: map[string]any{"cycle": path},
	}
}

// MultipleDynamicUpstreams reports a block that would have more than one dynamic producer upstream.
func MultipleDynamicUpstreams(block string, candidates []string) *AppError {
	return &AppError{
		Code: ErrCodeMultipleDynamicUpstreams,
		Message: fmt.Sprintf("Block %s can have at most one dynamic upstream block, found %d: %s",
			block, len(candidates), strings.Join(candidates, ", ")),
		Details: map[string]any{"block": block, "dynamic_upstreams": candidates},
	}
}

// DuplicateBlock reports a block uuid that is already present.
func DuplicateBlock(block string) *AppError {
	return &AppError{
		Code:    ErrCodeDuplicateBlock,
		Message: fmt.Sprintf("Block %s already exists in the pipeline.", block),
		Details: map[string]any{"block": block},
	}
}

// HasDownstream reports a delete of a block with dependents.
func HasDownstream(block string, downstream []string) *AppError {
	return &AppError{
		Code: ErrCodeHasDownstream,
		Message: fmt.Sprintf("Block %s has downstream dependencies: %s. Delete with force to re-link them.",
			block, strings.Join(downstream, ", ")),
		Details: map[string]any{"block": block, "downstream": downstream},
	}
}

// HasReplicas reports a delete of a block that other blocks replicate.
func HasReplicas(block string, replicas []string) *AppError {
	return &AppError{
		Code:    ErrCodeHasReplicas,
		Message: fmt.Sprintf("Block %s is replicated by: %s.", block, strings.Join(replicas, ", ")),
		Details: map[string]any{"block": block, "replicas": replicas},
	}
}

// BlockNotFound reports an unknown block uuid.
func BlockNotFound(block string) *AppError {
	return &AppError{
		Code:    ErrCodeBlockNotFound,
		Message: fmt.Sprintf("Block %s does not exist.", block),
		Details: map[string]any{"block": block},
	}
}

// IdentityMismatch reports a serialized block identity set that differs from memory.
func IdentityMismatch(pipeline string, missing, unexpected []string) *AppError {
	return &AppError{
		Code:    ErrCodeIdentityMismatch,
		Message: fmt.Sprintf("Pipeline %s block set changed during serialization.", pipeline),
		Details: map[string]any{"pipeline": pipeline, "missing": missing, "unexpected": unexpected},
	}
}

// RevisionConflict reports a save against a stale pipeline revision.
func RevisionConflict(pipeline string, loaded, persisted int) *AppError {
	return &AppError{
		Code: ErrCodeRevisionConflict,
		Message: fmt.Sprintf("Pipeline %s was modified concurrently (loaded revision %d, persisted revision %d). Reload and retry.",
			pipeline, loaded, persisted),
		Details: map[string]any{"pipeline": pipeline, "loaded_revision": loaded, "persisted_revision": persisted},
	}
}

// --- Execution validation ---

// UpstreamNotExecuted reports upstream blocks that have not produced output yet.
func UpstreamNotExecuted(block string, upstream []string) *AppError {
	return &AppError{
		Code: ErrCodeUpstreamNotExecuted,
		Message: fmt.Sprintf("Block %s cannot run: upstream blocks not executed: %s",
			block, strings.Join(upstream, ", ")),
		Details: map[string]any{"block": block, "upstream": upstream},
	}
}

// ArgumentMismatch reports a block whose arity differs from its upstream bindings.
func ArgumentMismatch(block string, expected, actual int) *AppError {
	return &AppError{
		Code: ErrCodeArgumentMismatch,
		Message: fmt.Sprintf("Block %s expects %d input(s) but %d upstream binding(s) were provided.",
			block, expected, actual),
		Details: map[string]any{"block": block, "expected": expected, "actual": actual},
	}
}

// NoStrategy reports a block with no registered execution strategy.
func NoStrategy(block, blockType, language string) *AppError {
	return &AppError{
		Code:    ErrCodeNoStrategy,
		Message: fmt.Sprintf("No execution strategy for block %s (type=%s, language=%s).", block, blockType, language),
		Details: map[string]any{"block": block, "type": blockType, "language": language},
	}
}

// ExecutionFailed wraps an error raised by block code.
func ExecutionFailed(block string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeExecutionFailed,
		Message: fmt.Sprintf("Block %s failed.", block),
		Details: map[string]any{"block": block},
		Cause:   cause,
	}
}

// TestsFailed reports failed post-execution tests.
func TestsFailed(block string, failed []string) *AppError {
	return &AppError{
		Code:    ErrCodeTestsFailed,
		Message: fmt.Sprintf("Block %s failed %d test(s): %s", block, len(failed), strings.Join(failed, ", ")),
		Details: map[string]any{"block": block, "tests": failed},
	}
}

// --- Scheduling ---

// SchedulingStarved reports a block that stayed unready for its whole retry budget.
func SchedulingStarved(block string, attempts int, pending []string) *AppError {
	return &AppError{
		Code: ErrCodeSchedulingStarved,
		Message: fmt.Sprintf("Block %s was not ready after %d scheduling attempts; unresolved upstream: %s",
			block, attempts, strings.Join(pending, ", ")),
		Details: map[string]any{"block": block, "attempts": attempts, "pending_upstream": pending},
	}
}

// --- Storage ---

// VariableNotFound reports a strict read of a missing variable.
func VariableNotFound(pipeline, block, variable, partition string) *AppError {
	return &AppError{
		Code:    ErrCodeVariableNotFound,
		Message: fmt.Sprintf("Variable %s of block %s has no persisted data.", variable, block),
		Details: map[string]any{"pipeline": pipeline, "block": block, "variable": variable, "partition": partition},
	}
}

// SerializationFailed wraps a codec failure.
func SerializationFailed(variable string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSerializationFailed,
		Message: fmt.Sprintf("Variable %s could not be serialized.", variable),
		Details: map[string]any{"variable": variable},
		Cause:   cause,
	}
}

// StorageError wraps a backend failure for the given path.
func StorageError(path string, cause error) *AppError {
	return &AppError{
		Code:      ErrCodeStorage,
		Message:   fmt.Sprintf("Storage operation failed for %s.", path),
		Retryable: true,
		Details:   map[string]any{"path": path},
		Cause:     cause,
	}
}

// --- Generic ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		Details: details,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out.", operation),
		Retryable: true, Details: map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an internal failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		Cause: cause,
	}
}

// --- Inspection ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if HasCode(e, code) {
					return true
				}
			}
			return false
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
