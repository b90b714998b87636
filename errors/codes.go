package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Task-level failure codes. These are recorded per task and are never fatal
// to the pipeline.
const (
	// ErrCodeGeneration indicates circuit generation failed.
	ErrCodeGeneration ErrorCode = "GENERATION_ERROR"
	// ErrCodeExtraction indicates feature extraction failed.
	ErrCodeExtraction ErrorCode = "EXTRACTION_ERROR"
	// ErrCodeSimulationTimeout indicates the task exceeded its wall-clock budget.
	ErrCodeSimulationTimeout ErrorCode = "SIMULATION_TIMEOUT"
	// ErrCodeUnknown indicates a task failure with no identified cause.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
	// ErrCodeDuplicate indicates the circuit hash already exists and the task
	// was skipped before expensive work. Counted, not a failure.
	ErrCodeDuplicate ErrorCode = "DUPLICATE"
)

// Dispatch-level codes.
const (
	// ErrCodeDispatchTransient indicates a retryable remote sync failure.
	ErrCodeDispatchTransient ErrorCode = "DISPATCH_TRANSIENT"
	// ErrCodeDispatchExhausted indicates all upload attempts failed and the
	// batch was spooled to local durable storage.
	ErrCodeDispatchExhausted ErrorCode = "DISPATCH_EXHAUSTED"
)

// Systemic codes. These are the only codes that halt the pipeline.
const (
	// ErrCodeInitFailed indicates a component could not be initialized.
	ErrCodeInitFailed ErrorCode = "INIT_FAILED"
	// ErrCodeResourceExhausted indicates local durable storage can no longer
	// be written (disk full or unwritable).
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeDispatchTransient: true,
	ErrCodeSimulationTimeout: false,
	ErrCodeGeneration:        false,
	ErrCodeExtraction:        false,
	ErrCodeUnknown:           false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

var fatalCodes = map[ErrorCode]bool{
	ErrCodeInitFailed:        true,
	ErrCodeResourceExhausted: true,
}

// IsFatalCode returns true if the error code must halt the pipeline.
func IsFatalCode(code ErrorCode) bool {
	return fatalCodes[code]
}
