package logger

// Standard field names used across the pipeline so log lines stay greppable.
const (
	FieldComponent   = "component"
	FieldWorkerID    = "worker_id"
	FieldTaskID      = "task_id"
	FieldBatchID     = "batch_id"
	FieldCircuitHash = "circuit_hash"
	FieldGenerator   = "generator"
	FieldAttempt     = "attempt"
	FieldDuration    = "duration"
	FieldError       = "error"
)
