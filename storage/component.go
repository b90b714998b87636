package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inferq/circuitpipe/component"
	"github.com/inferq/circuitpipe/logger"
)

// Archive bundles the local store and the hash index behind a lifecycle
// component: Start opens both, Stop persists the index. Registered first so
// everything downstream can assume durable storage exists.
type Archive struct {
	cfg Config
	log *logger.Logger

	newStore func(basePath string, minFree int64) (Storage, error)

	store Storage
	index *Index
}

// NewArchive creates the archive component. newStore builds the local
// backend; tests substitute an in-memory one.
func NewArchive(cfg Config, newStore func(basePath string, minFree int64) (Storage, error), log *logger.Logger) *Archive {
	return &Archive{
		cfg:      cfg,
		newStore: newStore,
		log:      log.WithComponent("archive"),
	}
}

// Store returns the underlying local Storage, or nil if not started.
func (a *Archive) Store() Storage { return a.store }

// Index returns the hash index, or nil if not started.
func (a *Archive) Index() *Index { return a.index }

var _ component.Component = (*Archive)(nil)

// Name returns the component name.
func (a *Archive) Name() string { return "archive" }

// Start opens the local store and loads the hash index.
func (a *Archive) Start(_ context.Context) error {
	s, err := a.newStore(a.cfg.BasePath, a.cfg.MinFreeBytes)
	if err != nil {
		return fmt.Errorf("archive start: %w", err)
	}

	idx, err := NewIndex(filepath.Join(a.cfg.BasePath, a.cfg.CacheFile))
	if err != nil {
		return fmt.Errorf("archive start: %w", err)
	}

	a.store = s
	a.index = idx
	a.log.Info("archive ready", map[string]interface{}{
		"base_path":    a.cfg.BasePath,
		"known_hashes": idx.Len(),
	})
	return nil
}

// Stop persists the hash index.
func (a *Archive) Stop(_ context.Context) error {
	if a.index == nil {
		return nil
	}
	return a.index.Save()
}

// Health reports whether the archive is usable.
func (a *Archive) Health(ctx context.Context) component.Health {
	if a.store == nil {
		return component.Health{
			Name:    a.Name(),
			Status:  component.StatusUnhealthy,
			Message: "archive not initialized",
		}
	}
	if _, err := a.store.URL(ctx, ".health"); err != nil {
		return component.Health{
			Name:    a.Name(),
			Status:  component.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return component.Health{Name: a.Name(), Status: component.StatusHealthy}
}

// Prune removes circuit directories that were uploaded and are older than
// the configured cleanup age. Returns the number of circuits removed.
func (a *Archive) Prune(ctx context.Context) (int, error) {
	if a.cfg.CleanupAfter <= 0 || a.store == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-a.cfg.CleanupAfter)
	files, err := a.store.List(ctx, circuitPrefix+"/")
	if err != nil {
		return 0, err
	}

	// Group by circuit hash; a circuit goes only when every object is stale.
	latest := make(map[string]time.Time)
	for _, f := range files {
		hash := hashFromPath(f.Path)
		if hash == "" {
			continue
		}
		if f.LastModified.After(latest[hash]) {
			latest[hash] = f.LastModified
		}
	}

	removed := 0
	for hash, mtime := range latest {
		if mtime.After(cutoff) || !a.index.Uploaded(hash) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.cfg.BasePath, circuitPrefix, hash)); err != nil {
			a.log.Warn("cleanup failed", map[string]interface{}{
				logger.FieldCircuitHash: hash,
				logger.FieldError:       err.Error(),
			})
			continue
		}
		removed++
	}

	if removed > 0 {
		a.log.Info("pruned uploaded circuits", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// hashFromPath extracts the circuit hash from "circuits/<hash>/...".
func hashFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, circuitPrefix+"/")
	if !ok {
		return ""
	}
	hash, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return hash
}
