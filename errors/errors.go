// Package errors provides the pipeline's error taxonomy. Task-level failures
// are tagged with a cause code and contained at the worker boundary; dispatch
// failures are classified transient or exhausted; only initialization and
// resource-exhaustion errors are fatal.
package errors

import (
	"errors"
	"fmt"
)

// PipelineError is the unified error type carried through the pipeline.
type PipelineError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *PipelineError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *PipelineError) WithDetail(key string, value any) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new PipelineError with automatic retryable detection.
func New(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// CodeOf extracts the error code from err, or ErrCodeUnknown if err is not
// a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnknown
}

// IsFatal reports whether err must halt the pipeline.
func IsFatal(err error) bool {
	return IsFatalCode(CodeOf(err))
}

// --- Task failure constructors ---

// Generation tags a circuit generation failure.
func Generation(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeGeneration, Message: "circuit generation failed",
		Retryable: false, Cause: cause,
	}
}

// Extraction tags a feature extraction failure.
func Extraction(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeExtraction, Message: "feature extraction failed",
		Retryable: false, Cause: cause,
	}
}

// SimulationTimeout tags a task that exceeded its wall-clock budget.
func SimulationTimeout(taskID string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeSimulationTimeout, Message: "task exceeded its timeout",
		Retryable: false,
		Details:   map[string]any{"task_id": taskID},
	}
}

// Unknown tags a task failure with no identified cause.
func Unknown(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeUnknown, Message: "task failed",
		Retryable: false, Cause: cause,
	}
}

// Duplicate marks a task skipped because its circuit hash already exists.
func Duplicate(hash string) *PipelineError {
	return &PipelineError{
		Code: ErrCodeDuplicate, Message: "circuit already exists",
		Retryable: false,
		Details:   map[string]any{"circuit_hash": hash},
	}
}

// --- Dispatch constructors ---

// DispatchTransient tags a remote sync failure that should be retried.
func DispatchTransient(cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeDispatchTransient, Message: "remote sync failed",
		Retryable: true, Cause: cause,
	}
}

// DispatchExhausted tags a batch whose upload attempts are all spent.
func DispatchExhausted(batchID string, attempts int, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeDispatchExhausted, Message: "upload attempts exhausted, batch spooled locally",
		Retryable: false, Cause: cause,
		Details: map[string]any{"batch_id": batchID, "attempts": attempts},
	}
}

// --- Systemic constructors ---

// InitFailed wraps a fatal component initialization error.
func InitFailed(component string, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeInitFailed, Message: fmt.Sprintf("failed to initialize %s", component),
		Retryable: false, Cause: cause,
		Details: map[string]any{"component": component},
	}
}

// ResourceExhausted wraps a fatal local storage exhaustion error.
func ResourceExhausted(path string, cause error) *PipelineError {
	return &PipelineError{
		Code: ErrCodeResourceExhausted, Message: "local durable storage exhausted",
		Retryable: false, Cause: cause,
		Details: map[string]any{"path": path},
	}
}
