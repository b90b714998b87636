package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/inferq/circuitpipe/circuit"
	"github.com/inferq/circuitpipe/logger"
)

// Enqueuer accepts sealed batches. The dispatcher implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, b *Batch) error
}

// Accumulator collects results and failures into the current batch and
// seals it when it reaches the configured size or age. Both kinds of entry
// count toward the size threshold. Sealing hands the batch to the enqueuer;
// when the dispatch queue is full that send blocks, which is the pipeline's
// backpressure point — workers stall on Add until the dispatcher catches
// up. Empty batches are never sealed.
type Accumulator struct {
	mu      sync.Mutex
	size    int
	maxAge  time.Duration
	out     Enqueuer
	current *Batch
	log     *logger.Logger
}

// NewAccumulator creates an accumulator sealing batches of size entries,
// or earlier once the oldest entry reaches maxAge (0 disables the age
// trigger).
func NewAccumulator(size int, maxAge time.Duration, out Enqueuer, log *logger.Logger) *Accumulator {
	if size <= 0 {
		size = 1
	}
	return &Accumulator{
		size:   size,
		maxAge: maxAge,
		out:    out,
		log:    log.WithComponent("accumulator"),
	}
}

// Add appends a result to the current batch, sealing it when full or
// overdue.
func (a *Accumulator) Add(ctx context.Context, res *circuit.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.openLocked()
	b.Results = append(b.Results, res)
	return a.sealIfDueLocked(ctx)
}

// AddFailure appends a failure record to the current batch, sealing it when
// full or overdue.
func (a *Accumulator) AddFailure(ctx context.Context, f *Failure) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.openLocked()
	b.Failures = append(b.Failures, f)
	return a.sealIfDueLocked(ctx)
}

// FlushIfStale seals the current batch if it has outlived maxAge.
func (a *Accumulator) FlushIfStale(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil || a.maxAge <= 0 || a.current.Age() < a.maxAge {
		return nil
	}
	return a.sealLocked(ctx, "age")
}

// Flush seals whatever is pending. Called once during drain so no entry is
// left behind.
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return nil
	}
	return a.sealLocked(ctx, "drain")
}

// Pending is the number of unsealed entries.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return 0
	}
	return a.current.Size()
}

func (a *Accumulator) openLocked() *Batch {
	if a.current == nil {
		a.current = newBatch()
	}
	return a.current
}

// sealIfDueLocked seals on either threshold. The age check here keeps the
// bound independent of how often the runner's ticker fires.
func (a *Accumulator) sealIfDueLocked(ctx context.Context) error {
	if a.current.Size() >= a.size {
		return a.sealLocked(ctx, "size")
	}
	if a.maxAge > 0 && a.current.Age() >= a.maxAge {
		return a.sealLocked(ctx, "age")
	}
	return nil
}

func (a *Accumulator) sealLocked(ctx context.Context, reason string) error {
	b := a.current
	a.current = nil
	b.SealedAt = time.Now()

	a.log.Debug("batch sealed", map[string]interface{}{
		logger.FieldBatchID: b.ID,
		"results":           len(b.Results),
		"failures":          len(b.Failures),
		"reason":            reason,
	})
	return a.out.Enqueue(ctx, b)
}
