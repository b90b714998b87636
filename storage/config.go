package storage

import (
	"errors"
	"fmt"
	"time"
)

// Provider constants for supported remote backends.
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// Default configuration values.
const (
	DefaultBasePath     = "./circuits"
	DefaultCacheFile    = "circuit_hashes_cache.json"
	DefaultMinFreeBytes = int64(512 * 1024 * 1024) // 512 MB
)

// Config holds local archive configuration.
type Config struct {
	// BasePath is the root directory of the local circuit archive.
	BasePath string `yaml:"base_path" mapstructure:"base_path"`

	// CacheFile is the hash index file, relative to BasePath.
	CacheFile string `yaml:"cache_file" mapstructure:"cache_file"`

	// MinFreeBytes is the free-space floor; writes below it fail as
	// resource exhaustion. 0 disables the check.
	MinFreeBytes int64 `yaml:"min_free_bytes" mapstructure:"min_free_bytes"`

	// CleanupAfter prunes uploaded circuit directories older than this.
	// 0 disables cleanup.
	CleanupAfter time.Duration `yaml:"cleanup_after" mapstructure:"cleanup_after"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.BasePath == "" {
		c.BasePath = DefaultBasePath
	}
	if c.CacheFile == "" {
		c.CacheFile = DefaultCacheFile
	}
	if c.MinFreeBytes == 0 {
		c.MinFreeBytes = DefaultMinFreeBytes
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return errors.New("storage: base_path is required")
	}
	if c.MinFreeBytes < 0 {
		return fmt.Errorf("storage: min_free_bytes must be >= 0 (got: %d)", c.MinFreeBytes)
	}
	return nil
}
