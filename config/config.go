// Package config defines the typed configuration for the pipeline and its
// loader. Configuration is resolved once at startup with documented
// precedence — defaults, then config file and environment, then explicit
// flag overrides — and injected into components.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/storage"
)

// Config is the root configuration object for a pipeline run.
type Config struct {
	Pipeline PipelineConfig       `yaml:"pipeline" mapstructure:"pipeline"`
	Circuit  CircuitConfig        `yaml:"circuit" mapstructure:"circuit"`
	Storage  storage.Config       `yaml:"storage" mapstructure:"storage"`
	Remote   storage.RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Logging  logger.Config        `yaml:"logging" mapstructure:"logging"`
}

// PipelineConfig controls the orchestration core.
type PipelineConfig struct {
	// Workers is the number of parallel workers. 0 means CPU count - 2,
	// floor 1.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// BatchSize is the number of results per dispatched batch.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// Iterations caps the number of tasks issued. 0 means unbounded.
	Iterations int `yaml:"iterations" mapstructure:"iterations"`
	// MaxBatchAge flushes a partially-filled batch after this duration so
	// low-throughput periods still get periodic uploads.
	MaxBatchAge time.Duration `yaml:"max_batch_age" mapstructure:"max_batch_age"`
	// SyncInterval is how often the runner checks the open batch's age.
	SyncInterval time.Duration `yaml:"sync_interval" mapstructure:"sync_interval"`
	// TaskTimeout is the per-task wall-clock budget.
	TaskTimeout time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
	// QueueSize bounds the dispatcher queue. When full, batch flushes block
	// the accumulator — the intended backpressure point.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// RetryOnce re-runs a failed task one time before recording the failure.
	RetryOnce bool `yaml:"retry_once" mapstructure:"retry_once"`
	// Rate limits task production per second. 0 disables limiting.
	Rate float64 `yaml:"rate" mapstructure:"rate"`
	// UploadAttempts bounds dispatch retries before a batch is spooled.
	UploadAttempts int `yaml:"upload_attempts" mapstructure:"upload_attempts"`
	// MetricsAddr, when set, serves Prometheus metrics on this address
	// (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// CircuitConfig bounds the circuit specifications the producer issues.
type CircuitConfig struct {
	MinQubits int `yaml:"min_qubits" mapstructure:"min_qubits"`
	MaxQubits int `yaml:"max_qubits" mapstructure:"max_qubits"`
	MinDepth  int `yaml:"min_depth" mapstructure:"min_depth"`
	MaxDepth  int `yaml:"max_depth" mapstructure:"max_depth"`
	// Seed is the base seed; each task derives its own from it.
	Seed int64 `yaml:"seed" mapstructure:"seed"`
	// Measure appends measurement operations to generated circuits.
	Measure bool `yaml:"measure" mapstructure:"measure"`
	// StoppingProbability controls hierarchical generation depth.
	StoppingProbability float64 `yaml:"stopping_probability" mapstructure:"stopping_probability"`
	// MaxGenerators caps sub-generators merged into one circuit.
	MaxGenerators int `yaml:"max_generators" mapstructure:"max_generators"`
	// GeneratorCommand, when set, is the external command invoked per task.
	GeneratorCommand string `yaml:"generator_command" mapstructure:"generator_command"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = DefaultWorkers()
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.MaxBatchAge <= 0 {
		c.Pipeline.MaxBatchAge = 5 * time.Minute
	}
	if c.Pipeline.SyncInterval <= 0 {
		c.Pipeline.SyncInterval = 10 * time.Second
	}
	if c.Pipeline.TaskTimeout <= 0 {
		c.Pipeline.TaskTimeout = 60 * time.Second
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 4
	}
	if c.Pipeline.UploadAttempts <= 0 {
		c.Pipeline.UploadAttempts = 5
	}

	if c.Circuit.MinQubits <= 0 {
		c.Circuit.MinQubits = 1
	}
	if c.Circuit.MaxQubits <= 0 {
		c.Circuit.MaxQubits = 30
	}
	if c.Circuit.MinDepth <= 0 {
		c.Circuit.MinDepth = 1
	}
	if c.Circuit.MaxDepth <= 0 {
		c.Circuit.MaxDepth = 200
	}
	if c.Circuit.Seed == 0 {
		c.Circuit.Seed = 5000000
	}
	if c.Circuit.StoppingProbability <= 0 {
		c.Circuit.StoppingProbability = 0.3
	}
	if c.Circuit.MaxGenerators <= 0 {
		c.Circuit.MaxGenerators = 5
	}

	c.Storage.ApplyDefaults()

	if c.Remote.Provider == "" {
		c.Remote.Provider = storage.ProviderS3
	}
	if c.Remote.Bucket == "" {
		c.Remote.Bucket = "circuits"
	}

	c.Logging.ApplyDefaults()
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Circuit.MinQubits > c.Circuit.MaxQubits {
		return fmt.Errorf("circuit.min_qubits (%d) exceeds circuit.max_qubits (%d)",
			c.Circuit.MinQubits, c.Circuit.MaxQubits)
	}
	if c.Circuit.MinDepth > c.Circuit.MaxDepth {
		return fmt.Errorf("circuit.min_depth (%d) exceeds circuit.max_depth (%d)",
			c.Circuit.MinDepth, c.Circuit.MaxDepth)
	}
	if c.Pipeline.Iterations < 0 {
		return fmt.Errorf("pipeline.iterations must be >= 0 (got: %d)", c.Pipeline.Iterations)
	}
	if c.Remote.Enabled && c.Remote.Bucket == "" {
		return fmt.Errorf("remote.bucket is required when remote sync is enabled")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// DefaultWorkers returns the detected CPU count minus two, floor 1. Two
// cores are left for the producer and dispatcher.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 2
	if n < 1 {
		n = 1
	}
	return n
}
