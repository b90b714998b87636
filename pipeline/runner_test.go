package pipeline

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/inferq/circuitpipe/circuit"
	"github.com/inferq/circuitpipe/config"
	apperrors "github.com/inferq/circuitpipe/errors"
)

func runnerConfig(workers, batchSize, iterations int) *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Pipeline.Workers = workers
	cfg.Pipeline.BatchSize = batchSize
	cfg.Pipeline.Iterations = iterations
	cfg.Pipeline.SyncInterval = 50 * time.Millisecond
	cfg.Pipeline.TaskTimeout = 5 * time.Second
	cfg.Circuit.Seed = 9000
	return cfg
}

// hookSignals replaces OS signal delivery with a test-owned channel.
func hookSignals(r *Runner) chan<- os.Signal {
	proxy := make(chan os.Signal, 2)
	r.notify = func(c chan os.Signal) {
		go func() {
			for sig := range proxy {
				c <- sig
			}
		}()
	}
	return proxy
}

func TestRunnerMixedOutcomes(t *testing.T) {
	// 7 tasks on 2 workers with batch size 3: 4 succeed, 3 fail generation.
	// Results and failures both fill batches, so the run seals two full
	// batches and one single-entry batch at drain.
	cfg := runnerConfig(2, 3, 7)
	proc := &failingProcessor{
		inner: circuit.NewSyntheticProcessor(),
		fail: map[int64]error{
			9001: apperrors.Generation(nil),
			9003: apperrors.Generation(nil),
			9005: apperrors.Generation(nil),
		},
	}
	remote := newMemStore()
	r := NewRunner(cfg, proc, nil, remote, nil, testLogger())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if r.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", r.State())
	}
	snap := r.Stats().Snapshot()
	if snap.Produced != 7 {
		t.Errorf("produced = %d, want 7", snap.Produced)
	}
	if snap.Succeeded != 4 {
		t.Errorf("succeeded = %d, want 4", snap.Succeeded)
	}
	if snap.Failed != 3 {
		t.Errorf("failed = %d, want 3", snap.Failed)
	}
	if snap.FailuresByCode[apperrors.ErrCodeGeneration] != 3 {
		t.Errorf("generation failures = %d, want 3", snap.FailuresByCode[apperrors.ErrCodeGeneration])
	}
	if snap.BatchesDispatched != 3 {
		t.Errorf("batches = %d, want 3 (sizes 3, 3 and 1)", snap.BatchesDispatched)
	}
	// 4 artifacts + 4 metadata docs + 3 manifests reached the remote.
	if got := len(remote.keys("")); got != 11 {
		t.Errorf("remote objects = %d, want 11", got)
	}
}

func TestRunnerSelfDrainsAtBudget(t *testing.T) {
	// Batch size far above the budget: everything arrives in the final
	// drain flush.
	cfg := runnerConfig(2, 100, 5)
	remote := newMemStore()
	r := NewRunner(cfg, circuit.NewSyntheticProcessor(), nil, remote, nil, testLogger())

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not self-drain")
	}

	snap := r.Stats().Snapshot()
	if snap.Succeeded != 5 {
		t.Errorf("succeeded = %d, want 5", snap.Succeeded)
	}
	if snap.BatchesDispatched != 1 {
		t.Errorf("batches = %d, want 1 partial batch from drain", snap.BatchesDispatched)
	}
	if r.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", r.State())
	}
}

func TestRunnerDrainsOnSignal(t *testing.T) {
	cfg := runnerConfig(2, 10, 0) // unbounded
	remote := newMemStore()
	r := NewRunner(cfg, circuit.NewSyntheticProcessor(), nil, remote, nil, testLogger())
	sigs := hookSignals(r)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	if !waitFor(5*time.Second, func() bool { return r.Stats().Snapshot().Succeeded >= 10 }) {
		t.Fatal("pipeline did not make progress")
	}
	sigs <- syscall.SIGINT

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("graceful drain returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not drain on signal")
	}

	snap := r.Stats().Snapshot()
	if snap.InFlight != 0 {
		t.Errorf("in-flight = %d after drain", snap.InFlight)
	}
	// Everything accepted was accounted for: no task vanished.
	if snap.Succeeded+snap.Failed+snap.Duplicates != snap.Produced {
		t.Errorf("accounting mismatch: produced=%d succeeded=%d failed=%d dup=%d",
			snap.Produced, snap.Succeeded, snap.Failed, snap.Duplicates)
	}
	if r.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", r.State())
	}
}

func TestRunnerForceShutdownOnSecondSignal(t *testing.T) {
	cfg := runnerConfig(1, 10, 0)
	cfg.Pipeline.TaskTimeout = 0 // let tasks run unbounded
	slow := circuit.ProcessorFunc(func(ctx context.Context, spec circuit.Spec, workerID int) (*circuit.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Hour):
			return nil, nil
		}
	})
	r := NewRunner(cfg, slow, nil, newMemStore(), nil, testLogger())
	sigs := hookSignals(r)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	if !waitFor(5*time.Second, func() bool { return r.Stats().Snapshot().InFlight > 0 }) {
		t.Fatal("no task started")
	}
	sigs <- syscall.SIGINT
	time.Sleep(50 * time.Millisecond)
	sigs <- syscall.SIGINT

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("forced shutdown should not report a clean run")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("second signal did not force shutdown")
	}
	if r.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", r.State())
	}
	// The abandoned in-flight task is accounted as a failure.
	snap := r.Stats().Snapshot()
	if snap.FailuresByCode[apperrors.ErrCodeUnknown] == 0 {
		t.Error("abandoned in-flight task not counted as a failure")
	}
}

func TestRunnerFatalErrorAborts(t *testing.T) {
	cfg := runnerConfig(2, 10, 0)
	fatal := circuit.ProcessorFunc(func(ctx context.Context, spec circuit.Spec, workerID int) (*circuit.Result, error) {
		return circuit.NewSyntheticProcessor().Process(ctx, spec, workerID)
	})
	r := NewRunner(cfg, fatal, nil, newMemStore(), nil, testLogger())
	// Break the archive path instead: use a pool-level fatal via storage.
	r.pool.store = func() *memStore {
		s := newMemStore()
		s.failUploads(1<<30, apperrors.ResourceExhausted("/data", nil))
		return s
	}()

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected fatal error to abort the run")
		}
		if !apperrors.IsFatal(err) {
			t.Errorf("error not fatal: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not abort on fatal error")
	}
	if r.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", r.State())
	}
}
