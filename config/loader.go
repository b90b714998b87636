package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Overrides carries explicit flag values that take precedence over both the
// config file and the environment. Nil fields mean "not set".
type Overrides struct {
	Workers      *int
	BatchSize    *int
	Iterations   *int
	SyncInterval *time.Duration
	MaxBatchAge  *time.Duration
	TaskTimeout  *time.Duration
	StoragePath  *string
	RemoteOn     *bool
}

// envBindings maps flat environment variable names, kept compatible with the
// shell launchers, to nested config keys.
var envBindings = map[string]string{
	"WORKERS":             "pipeline.workers",
	"BATCH_SIZE":          "pipeline.batch_size",
	"ITERATIONS":          "pipeline.iterations",
	"SYNC_INTERVAL":       "pipeline.sync_interval",
	"MAX_BATCH_AGE":       "pipeline.max_batch_age",
	"TASK_TIMEOUT":        "pipeline.task_timeout",
	"UPLOAD_ATTEMPTS":     "pipeline.upload_attempts",
	"METRICS_ADDR":        "pipeline.metrics_addr",
	"MIN_QUBITS":          "circuit.min_qubits",
	"MAX_QUBITS":          "circuit.max_qubits",
	"MIN_DEPTH":           "circuit.min_depth",
	"MAX_DEPTH":           "circuit.max_depth",
	"SEED":                "circuit.seed",
	"MEASURE":             "circuit.measure",
	"STOPPING_PROB":       "circuit.stopping_probability",
	"MAX_GENERATORS":      "circuit.max_generators",
	"GENERATOR_COMMAND":   "circuit.generator_command",
	"LOCAL_CIRCUITS_DIR":  "storage.base_path",
	"CACHE_FILE":          "storage.cache_file",
	"REMOTE_ENABLED":      "remote.enabled",
	"REMOTE_BUCKET":       "remote.bucket",
	"REMOTE_REGION":       "remote.region",
	"REMOTE_ENDPOINT":     "remote.endpoint",
	"REMOTE_ACCESS_KEY":   "remote.access_key",
	"REMOTE_SECRET_KEY":   "remote.secret_key",
	"LOG_LEVEL":           "logging.level",
	"LOG_FORMAT":          "logging.format",
	"LOG_OUTPUT":          "logging.output",
	"LOG_NO_COLOR":        "logging.no_color",
}

// Load resolves the configuration: built-in defaults, then the config file
// (if any) and environment (including a .env file), then explicit overrides.
func Load(configFile, envFile string, ov Overrides) (*Config, error) {
	// A .env file feeds the environment before viper reads it.
	if envFile == "" {
		if _, err := os.Stat(".env"); err == nil {
			envFile = ".env"
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "[config] warning: failed to load env file %s: %v\n", envFile, err)
		}
	}

	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for env, key := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyOverrides(cfg, ov)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	if ov.Workers != nil {
		cfg.Pipeline.Workers = *ov.Workers
	}
	if ov.BatchSize != nil {
		cfg.Pipeline.BatchSize = *ov.BatchSize
	}
	if ov.Iterations != nil {
		cfg.Pipeline.Iterations = *ov.Iterations
	}
	if ov.SyncInterval != nil {
		cfg.Pipeline.SyncInterval = *ov.SyncInterval
	}
	if ov.MaxBatchAge != nil {
		cfg.Pipeline.MaxBatchAge = *ov.MaxBatchAge
	}
	if ov.TaskTimeout != nil {
		cfg.Pipeline.TaskTimeout = *ov.TaskTimeout
	}
	if ov.StoragePath != nil {
		cfg.Storage.BasePath = *ov.StoragePath
	}
	if ov.RemoteOn != nil {
		cfg.Remote.Enabled = *ov.RemoteOn
	}
}
