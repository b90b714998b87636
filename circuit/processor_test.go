package circuit

import (
	"context"
	"testing"
	"time"
)

func TestSyntheticDeterministic(t *testing.T) {
	p := NewSyntheticProcessor()
	spec := Spec{ID: "t1", Generator: GeneratorGHZ, Qubits: 4, Depth: 10, Seed: 42}

	a, err := p.Process(context.Background(), spec, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Process(context.Background(), spec, 1)
	if err != nil {
		t.Fatal(err)
	}

	if a.Hash != b.Hash {
		t.Error("same spec must produce the same hash regardless of worker")
	}
	if a.Hash != HashPayload(a.Payload) {
		t.Error("hash does not match payload")
	}
}

func TestSyntheticSeedChangesHash(t *testing.T) {
	p := NewSyntheticProcessor()
	base := Spec{ID: "t1", Generator: GeneratorQFT, Qubits: 4, Depth: 10, Seed: 1}
	other := base
	other.Seed = 2

	a, _ := p.Process(context.Background(), base, 0)
	b, _ := p.Process(context.Background(), other, 0)
	if a.Hash == b.Hash {
		t.Error("different seeds must produce different hashes")
	}
}

func TestSyntheticMetadata(t *testing.T) {
	p := NewSyntheticProcessor()
	spec := Spec{ID: "t1", Generator: GeneratorWState, Qubits: 7, Depth: 3, Seed: 9, Measure: true}

	res, err := p.Process(context.Background(), spec, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata["num_qubits"] != 7 {
		t.Errorf("num_qubits = %v, want 7", res.Metadata["num_qubits"])
	}
	if res.Metadata["generator"] != "wstate" {
		t.Errorf("generator = %v, want wstate", res.Metadata["generator"])
	}
	if res.WorkerID != 2 {
		t.Errorf("worker id = %d, want 2", res.WorkerID)
	}
	if res.Method != "qpy" {
		t.Errorf("method = %q, want qpy", res.Method)
	}
	if res.TaskID != "t1" {
		t.Errorf("task id = %q", res.TaskID)
	}
}

func TestSyntheticDelayHonorsCancel(t *testing.T) {
	p := &SyntheticProcessor{Delay: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Process(ctx, Spec{ID: "t1", Seed: 1, Qubits: 2, Depth: 2}, 0)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancel not honored promptly")
	}
}

func TestProcessorFunc(t *testing.T) {
	called := false
	p := ProcessorFunc(func(ctx context.Context, spec Spec, workerID int) (*Result, error) {
		called = true
		return &Result{TaskID: spec.ID}, nil
	})
	res, err := p.Process(context.Background(), Spec{ID: "x"}, 0)
	if err != nil || !called || res.TaskID != "x" {
		t.Fatalf("adapter misbehaved: res=%+v err=%v called=%t", res, err, called)
	}
}
