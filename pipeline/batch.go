package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/inferq/circuitpipe/circuit"
	apperrors "github.com/inferq/circuitpipe/errors"
)

// Failure records a task that finished without a result. Failures travel in
// batches alongside results so every accepted task is accounted for
// downstream.
type Failure struct {
	TaskID    string              `json:"task_id"`
	WorkerID  int                 `json:"worker_id"`
	Generator circuit.Generator   `json:"generator"`
	Code      apperrors.ErrorCode `json:"code"`
	Message   string              `json:"message"`
	At        time.Time           `json:"at"`
}

// Batch is a sealed group of results and failures on its way to the remote
// store.
type Batch struct {
	// ID uniquely identifies the batch across runs.
	ID string `json:"id"`
	// Results are the circuits in this batch.
	Results []*circuit.Result `json:"results"`
	// Failures are the tasks in this batch that produced no circuit.
	Failures []*Failure `json:"failures,omitempty"`
	// CreatedAt is when the first entry was accumulated.
	CreatedAt time.Time `json:"created_at"`
	// SealedAt is when the batch was closed for dispatch.
	SealedAt time.Time `json:"sealed_at"`
}

func newBatch() *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
}

// Size is the number of entries, results and failures both. Never zero once
// sealed.
func (b *Batch) Size() int {
	return len(b.Results) + len(b.Failures)
}

// Hashes returns the content hashes of all results in the batch.
func (b *Batch) Hashes() []string {
	hashes := make([]string, 0, len(b.Results))
	for _, r := range b.Results {
		hashes = append(hashes, r.Hash)
	}
	return hashes
}

// Age is how long the batch has been accumulating.
func (b *Batch) Age() time.Duration {
	return time.Since(b.CreatedAt)
}
