package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IndexEntry records what is known about one circuit hash.
type IndexEntry struct {
	Hash     string    `json:"hash"`
	Uploaded bool      `json:"uploaded"`
	SeenAt   time.Time `json:"seen_at"`
}

// Index is the persistent circuit-hash cache. Workers consult it to skip
// duplicate circuits before expensive processing, and the dispatcher marks
// hashes uploaded so they are never re-synced. Safe for concurrent use.
type Index struct {
	path string

	mu      sync.RWMutex
	entries map[string]*IndexEntry
	dirty   bool
}

// indexFile is the on-disk JSON shape.
type indexFile struct {
	SavedAt time.Time     `json:"saved_at"`
	Entries []*IndexEntry `json:"entries"`
}

// NewIndex creates an index persisted at path. The file is loaded if it
// exists; a missing file means an empty index, not an error.
func NewIndex(path string) (*Index, error) {
	idx := &Index{
		path:    path,
		entries: make(map[string]*IndexEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("storage: read hash index: %w", err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("storage: parse hash index %s: %w", path, err)
	}
	for _, e := range f.Entries {
		idx.entries[e.Hash] = e
	}
	return idx, nil
}

// Has reports whether the hash is already known.
func (i *Index) Has(hash string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.entries[hash]
	return ok
}

// Add records a newly produced circuit hash. Returns false if the hash was
// already present.
func (i *Index) Add(hash string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.entries[hash]; ok {
		return false
	}
	i.entries[hash] = &IndexEntry{Hash: hash, SeenAt: time.Now()}
	i.dirty = true
	return true
}

// MarkUploaded flags hashes as synced to remote storage.
func (i *Index) MarkUploaded(hashes ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, h := range hashes {
		if e, ok := i.entries[h]; ok {
			e.Uploaded = true
		} else {
			i.entries[h] = &IndexEntry{Hash: h, Uploaded: true, SeenAt: time.Now()}
		}
		i.dirty = true
	}
}

// Uploaded reports whether the hash has been synced to remote storage.
func (i *Index) Uploaded(hash string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.entries[hash]
	return ok && e.Uploaded
}

// Len returns the number of known hashes.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Save persists the index if it changed since the last save.
func (i *Index) Save() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.dirty {
		return nil
	}

	f := indexFile{SavedAt: time.Now(), Entries: make([]*IndexEntry, 0, len(i.entries))}
	for _, e := range i.entries {
		f.Entries = append(f.Entries, e)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode hash index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0o750); err != nil {
		return fmt.Errorf("storage: create index directory: %w", err)
	}
	// Write-then-rename keeps the index readable if the process dies mid-save.
	tmp := i.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("storage: write hash index: %w", err)
	}
	if err := os.Rename(tmp, i.path); err != nil {
		return fmt.Errorf("storage: replace hash index: %w", err)
	}

	i.dirty = false
	return nil
}
