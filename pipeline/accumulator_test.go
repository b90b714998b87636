package pipeline

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/inferq/circuitpipe/errors"
)

func TestAccumulatorSealsAtSize(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(3, 0, q, testLogger())
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := acc.Add(ctx, testResult(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}

	batches := q.all()
	if len(batches) != 2 {
		t.Fatalf("expected 2 sealed batches, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b.Results) != 3 {
			t.Errorf("batch %s has %d results, want 3", b.ID, len(b.Results))
		}
		if b.SealedAt.IsZero() {
			t.Errorf("batch %s not stamped on seal", b.ID)
		}
	}
	if acc.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", acc.Pending())
	}
}

func TestAccumulatorCountsFailuresTowardSize(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(3, 0, q, testLogger())
	ctx := context.Background()

	// 2 results + 1 failure hit the size threshold together.
	acc.Add(ctx, testResult("a"))
	acc.AddFailure(ctx, testFailure("b", apperrors.ErrCodeGeneration))
	acc.Add(ctx, testResult("c"))

	batches := q.all()
	if len(batches) != 1 {
		t.Fatalf("expected 1 sealed batch, got %d", len(batches))
	}
	b := batches[0]
	if b.Size() != 3 {
		t.Errorf("batch size = %d, want 3", b.Size())
	}
	if len(b.Results) != 2 || len(b.Failures) != 1 {
		t.Errorf("results=%d failures=%d, want 2/1", len(b.Results), len(b.Failures))
	}
	if b.Failures[0].Code != apperrors.ErrCodeGeneration {
		t.Errorf("failure code = %s, want %s", b.Failures[0].Code, apperrors.ErrCodeGeneration)
	}
	if acc.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", acc.Pending())
	}
}

func TestAccumulatorSealsOverdueBatchOnAdd(t *testing.T) {
	// The age bound must hold even when nothing else checks staleness.
	q := &collectQueue{}
	acc := NewAccumulator(100, 20*time.Millisecond, q, testLogger())
	ctx := context.Background()

	acc.Add(ctx, testResult("a"))
	time.Sleep(30 * time.Millisecond)
	acc.Add(ctx, testResult("b"))

	batches := q.all()
	if len(batches) != 1 {
		t.Fatalf("expected overdue batch sealed on Add, got %d batches", len(batches))
	}
	if batches[0].Size() != 2 {
		t.Errorf("batch size = %d, want 2", batches[0].Size())
	}
}

func TestAccumulatorFlushIfStale(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(100, 20*time.Millisecond, q, testLogger())
	ctx := context.Background()

	acc.Add(ctx, testResult("a"))

	// Fresh batch stays put.
	if err := acc.FlushIfStale(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.all()) != 0 {
		t.Fatal("fresh batch flushed early")
	}

	time.Sleep(30 * time.Millisecond)
	if err := acc.FlushIfStale(ctx); err != nil {
		t.Fatal(err)
	}

	batches := q.all()
	if len(batches) != 1 {
		t.Fatalf("expected 1 stale flush, got %d", len(batches))
	}
	if len(batches[0].Results) != 1 {
		t.Errorf("stale batch has %d results, want 1", len(batches[0].Results))
	}
}

func TestAccumulatorFinalFlush(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(10, 0, q, testLogger())
	ctx := context.Background()

	acc.Add(ctx, testResult("a"))
	acc.Add(ctx, testResult("b"))

	if err := acc.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	batches := q.all()
	if len(batches) != 1 || len(batches[0].Results) != 2 {
		t.Fatalf("final flush lost results: %+v", batches)
	}
	if acc.Pending() != 0 {
		t.Errorf("Pending = %d after flush", acc.Pending())
	}
}

func TestAccumulatorNeverSealsEmpty(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(10, time.Nanosecond, q, testLogger())
	ctx := context.Background()

	if err := acc.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := acc.FlushIfStale(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.all()) != 0 {
		t.Fatal("empty batch sealed")
	}
}

func TestAccumulatorDistinctBatchIDs(t *testing.T) {
	q := &collectQueue{}
	acc := NewAccumulator(1, 0, q, testLogger())
	ctx := context.Background()

	acc.Add(ctx, testResult("a"))
	acc.Add(ctx, testResult("b"))

	batches := q.all()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].ID == batches[1].ID {
		t.Error("batch IDs must be unique")
	}
}
