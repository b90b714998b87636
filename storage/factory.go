package storage

import (
	"fmt"

	"github.com/inferq/circuitpipe/logger"
)

// RemoteConfig configures the remote sync backend.
type RemoteConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// RemoteFactory creates a remote Storage from the shared remote config.
type RemoteFactory func(cfg RemoteConfig, log *logger.Logger) (Storage, error)

var remoteFactories = make(map[string]RemoteFactory)

// RegisterRemote registers a remote backend factory for the given provider
// name. Implementation packages call this in an init function.
func RegisterRemote(name string, f RemoteFactory) {
	remoteFactories[name] = f
}

// NewRemote creates the remote Storage named by cfg.Provider. Ensure the
// provider package has been imported (e.g. _ ".../storage/s3") so its
// factory is registered.
func NewRemote(cfg RemoteConfig, log *logger.Logger) (Storage, error) {
	f, ok := remoteFactories[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("storage: unsupported remote provider %q (not registered)", cfg.Provider)
	}

	l := log.WithComponent("storage")
	l.Info("initializing remote storage", map[string]interface{}{"provider": cfg.Provider})
	return f(cfg, l)
}
