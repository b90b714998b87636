package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/storage"
)

// fastRetry keeps dispatcher tests quick.
func fastRetryDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := NewDispatcher(cfg)
	d.retry.InitialBackoff = time.Millisecond
	d.retry.MaxBackoff = 5 * time.Millisecond
	d.retry.Jitter = 0
	return d
}

func sealedBatch(ids ...string) *Batch {
	b := newBatch()
	for _, id := range ids {
		b.Results = append(b.Results, testResult(id))
	}
	b.SealedAt = time.Now()
	return b
}

func runDispatcher(t *testing.T, d *Dispatcher, batches ...*Batch) {
	t.Helper()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for _, b := range batches {
		if err := d.Enqueue(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	d.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dispatcher returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

func TestDispatcherUploadsBatch(t *testing.T) {
	stats := NewStats()
	remote := newMemStore()
	d := fastRetryDispatcher(DispatcherConfig{
		Remote: remote,
		Stats:  stats,
		Log:    testLogger(),
	})

	b := sealedBatch("a", "b")
	runDispatcher(t, d, b)

	for _, res := range b.Results {
		ok, _ := remote.Exists(context.Background(), storage.ArtifactPath(res.Hash, res.Method))
		if !ok {
			t.Errorf("artifact for %s not uploaded", res.TaskID)
		}
	}
	ok, _ := remote.Exists(context.Background(), storage.BatchManifestPath(b.ID))
	if !ok {
		t.Error("batch manifest not uploaded")
	}
	if stats.Snapshot().BatchesDispatched != 1 {
		t.Errorf("dispatched = %d, want 1", stats.Snapshot().BatchesDispatched)
	}
}

func TestDispatcherManifestCarriesFailures(t *testing.T) {
	stats := NewStats()
	remote := newMemStore()
	d := fastRetryDispatcher(DispatcherConfig{
		Remote: remote,
		Stats:  stats,
		Log:    testLogger(),
	})

	b := sealedBatch("a", "b")
	b.Failures = append(b.Failures,
		testFailure("c", apperrors.ErrCodeGeneration),
		testFailure("d", apperrors.ErrCodeSimulationTimeout),
	)
	runDispatcher(t, d, b)

	rc, err := remote.Download(context.Background(), storage.BatchManifestPath(b.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	var m batchManifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Count != 4 {
		t.Errorf("manifest count = %d, want 4 (results and failures)", m.Count)
	}
	if len(m.Failures) != 2 {
		t.Fatalf("manifest failures = %d, want 2", len(m.Failures))
	}
	if m.Failures[0].Code != apperrors.ErrCodeGeneration {
		t.Errorf("failure code = %s, want %s", m.Failures[0].Code, apperrors.ErrCodeGeneration)
	}
	if len(m.Hashes) != 2 {
		t.Errorf("manifest hashes = %d, want 2 (results only)", len(m.Hashes))
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	stats := NewStats()
	remote := newMemStore()
	// First 2 uploads fail, then the store recovers: exactly 3 attempts on
	// the first artifact, then success.
	remote.failUploads(2, fmt.Errorf("connection reset"))
	d := fastRetryDispatcher(DispatcherConfig{
		Attempts: 5,
		Remote:   remote,
		Stats:    stats,
		Log:      testLogger(),
	})

	runDispatcher(t, d, sealedBatch("a"))

	snap := stats.Snapshot()
	if snap.BatchesDispatched != 1 {
		t.Errorf("dispatched = %d, want 1", snap.BatchesDispatched)
	}
	if snap.UploadFailures != 2 {
		t.Errorf("upload failures = %d, want 2", snap.UploadFailures)
	}
	if snap.BatchesSpooled != 0 {
		t.Errorf("spooled = %d, want 0", snap.BatchesSpooled)
	}
}

func TestDispatcherSpoolsAfterExhaustion(t *testing.T) {
	stats := NewStats()
	remote := newMemStore()
	remote.failUploads(1000, fmt.Errorf("bucket gone"))
	spool := newMemStore()
	d := fastRetryDispatcher(DispatcherConfig{
		Attempts: 3,
		Remote:   remote,
		Spool:    spool,
		Stats:    stats,
		Log:      testLogger(),
	})

	b := sealedBatch("a", "b")
	runDispatcher(t, d, b)

	snap := stats.Snapshot()
	if snap.BatchesDispatched != 0 {
		t.Errorf("dispatched = %d, want 0", snap.BatchesDispatched)
	}
	if snap.BatchesSpooled != 1 {
		t.Errorf("spooled = %d, want 1", snap.BatchesSpooled)
	}
	ok, _ := spool.Exists(context.Background(), storage.SpoolPath(b.ID))
	if !ok {
		t.Error("spool file missing")
	}
}

func TestDispatcherBreakerShortCircuits(t *testing.T) {
	stats := NewStats()
	remote := newMemStore()
	remote.failUploads(1000, fmt.Errorf("endpoint down"))
	spool := newMemStore()
	d := fastRetryDispatcher(DispatcherConfig{
		Attempts:         3,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
		Remote:           remote,
		Spool:            spool,
		Stats:            stats,
		Log:              testLogger(),
	})

	// First batch burns through its attempts and trips the breaker; later
	// batches go straight to the spool without touching the remote.
	runDispatcher(t, d, sealedBatch("a"), sealedBatch("b"), sealedBatch("c"))

	snap := stats.Snapshot()
	if snap.BatchesSpooled != 3 {
		t.Errorf("spooled = %d, want 3", snap.BatchesSpooled)
	}
	if len(spool.keys(storage.SpoolPrefix())) != 3 {
		t.Errorf("spool files = %d, want 3", len(spool.keys(storage.SpoolPrefix())))
	}
	// Only the pre-trip attempts reached the remote.
	if remote.uploads > 3 {
		t.Errorf("remote saw %d uploads after breaker opened", remote.uploads)
	}
}

func TestDispatcherMarksUploaded(t *testing.T) {
	stats := NewStats()
	idx, err := storage.NewIndex(filepath.Join(t.TempDir(), "cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	remote := newMemStore()
	d := fastRetryDispatcher(DispatcherConfig{
		Remote: remote,
		Index:  idx,
		Stats:  stats,
		Log:    testLogger(),
	})

	b := sealedBatch("a", "b")
	runDispatcher(t, d, b)

	for _, hash := range b.Hashes() {
		if !idx.Uploaded(hash) {
			t.Errorf("hash %s not marked uploaded", hash)
		}
	}
}

func TestDispatcherRemoteDisabled(t *testing.T) {
	stats := NewStats()
	idx, err := storage.NewIndex(filepath.Join(t.TempDir(), "cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	d := fastRetryDispatcher(DispatcherConfig{
		Index: idx,
		Stats: stats,
		Log:   testLogger(),
	})

	b := sealedBatch("a")
	runDispatcher(t, d, b)

	if stats.Snapshot().BatchesDispatched != 1 {
		t.Error("local-only batch not acknowledged")
	}
	if !idx.Uploaded(b.Results[0].Hash) {
		t.Error("local-only batch not marked in index")
	}
}

func TestDispatcherBackpressure(t *testing.T) {
	d := fastRetryDispatcher(DispatcherConfig{
		QueueSize: 1,
		Stats:     NewStats(),
		Log:       testLogger(),
	})
	// Run is not started: the queue fills and Enqueue must block until ctx
	// expires.
	ctx := context.Background()
	if err := d.Enqueue(ctx, sealedBatch("a")); err != nil {
		t.Fatal(err)
	}

	blockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := d.Enqueue(blockCtx, sealedBatch("b"))
	if err == nil {
		t.Fatal("expected Enqueue to block on a full queue")
	}
}
