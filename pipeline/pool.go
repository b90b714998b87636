package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/inferq/circuitpipe/circuit"
	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/storage"
)

// resultSink receives completed task outcomes, successful or not. The
// accumulator implements it; tests substitute their own.
type resultSink interface {
	Add(ctx context.Context, res *circuit.Result) error
	AddFailure(ctx context.Context, f *Failure) error
}

// Pool runs a fixed set of workers over the task channel. Each task runs
// under a wall-clock timeout: when it fires, the worker records the timeout
// and moves on while the abandoned attempt winds down on its own. Task
// failures are counted, never fatal; only infrastructure errors (local
// storage exhausted) stop the pool.
type Pool struct {
	workers   int
	timeout   time.Duration
	retryOnce bool
	processor circuit.Processor
	store     storage.Storage // local archive, may be nil
	index     *storage.Index  // dedup cache, may be nil
	stats     *Stats
	metrics   *Metrics
	log       *logger.Logger
}

// PoolConfig assembles a worker pool.
type PoolConfig struct {
	Workers   int
	Timeout   time.Duration
	RetryOnce bool
	Processor circuit.Processor
	Store     storage.Storage
	Index     *storage.Index
	Stats     *Stats
	Metrics   *Metrics
	Log       *logger.Logger
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers:   workers,
		timeout:   cfg.Timeout,
		retryOnce: cfg.RetryOnce,
		processor: cfg.Processor,
		store:     cfg.Store,
		index:     cfg.Index,
		stats:     cfg.Stats,
		metrics:   cfg.Metrics,
		log:       cfg.Log.WithComponent("pool"),
	}
}

// Run consumes specs until the channel closes or ctx is canceled, then
// returns once every worker has finished its current task. The first fatal
// error aborts the run.
func (p *Pool) Run(ctx context.Context, in <-chan circuit.Spec, sink resultSink) error {
	var wg sync.WaitGroup
	errCh := make(chan error, p.workers)

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := p.worker(ctx, id, in, sink); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (p *Pool) worker(ctx context.Context, id int, in <-chan circuit.Spec, sink resultSink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case spec, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.handle(ctx, id, spec, sink); err != nil {
				return err
			}
		}
	}
}

// handle runs one task end to end. The returned error is non-nil only for
// fatal infrastructure failures.
func (p *Pool) handle(ctx context.Context, id int, spec circuit.Spec, sink resultSink) error {
	p.stats.TaskStarted()
	p.metrics.inFlight(1)
	defer func() {
		p.stats.TaskFinished()
		p.metrics.inFlight(-1)
	}()

	started := time.Now()
	res, err := p.attempt(ctx, id, spec)
	if err != nil && p.retryOnce && retryableTask(err) && ctx.Err() == nil {
		p.log.Debug("retrying task once", map[string]interface{}{
			logger.FieldTaskID: spec.ID,
			logger.FieldError:  err.Error(),
		})
		res, err = p.attempt(ctx, id, spec)
	}
	p.metrics.observeDuration(time.Since(started).Seconds())

	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) &&
			apperrors.CodeOf(err) != apperrors.ErrCodeSimulationTimeout {
			// Run was force-terminated mid-task; the abandoned task still
			// counts as a failure.
			p.stats.TaskFailed(apperrors.ErrCodeUnknown)
			p.metrics.taskOutcome(string(apperrors.ErrCodeUnknown))
			p.log.Debug("task interrupted by shutdown", map[string]interface{}{
				logger.FieldTaskID:   spec.ID,
				logger.FieldWorkerID: id,
			})
			return nil
		}
		code := apperrors.CodeOf(err)
		p.stats.TaskFailed(code)
		p.metrics.taskOutcome(string(code))
		p.log.Debug("task failed", map[string]interface{}{
			logger.FieldTaskID:    spec.ID,
			logger.FieldWorkerID:  id,
			logger.FieldGenerator: string(spec.Generator),
			logger.FieldError:     err.Error(),
		})
		// Failures ride in batches too so every accepted task shows up in
		// the dispatched accounting. A refused sink means the run is over.
		_ = sink.AddFailure(ctx, &Failure{
			TaskID:    spec.ID,
			WorkerID:  id,
			Generator: spec.Generator,
			Code:      code,
			Message:   err.Error(),
			At:        time.Now(),
		})
		return nil
	}

	// Content hash dedup: the first claim on a hash wins, later ones are
	// dropped before any storage or dispatch work.
	if p.index != nil && !p.index.Add(res.Hash) {
		p.stats.TaskDuplicate()
		p.metrics.taskOutcome("duplicate")
		p.log.Debug("duplicate circuit skipped", map[string]interface{}{
			logger.FieldTaskID:      spec.ID,
			logger.FieldCircuitHash: res.Hash,
		})
		return nil
	}

	if p.store != nil {
		if err := p.persist(ctx, res); err != nil {
			if apperrors.IsFatal(err) {
				p.log.Error("local archive write failed, aborting", map[string]interface{}{
					logger.FieldCircuitHash: res.Hash,
					logger.FieldError:       err.Error(),
				})
				return err
			}
			p.stats.TaskFailed(apperrors.CodeOf(err))
			p.metrics.taskOutcome(string(apperrors.CodeOf(err)))
			p.log.Warn("archiving result failed", map[string]interface{}{
				logger.FieldCircuitHash: res.Hash,
				logger.FieldError:       err.Error(),
			})
			_ = sink.AddFailure(ctx, &Failure{
				TaskID:    spec.ID,
				WorkerID:  id,
				Generator: spec.Generator,
				Code:      apperrors.CodeOf(err),
				Message:   err.Error(),
				At:        time.Now(),
			})
			return nil
		}
	}

	if err := sink.Add(ctx, res); err != nil {
		// Accumulator refuses only when the run is over.
		return nil
	}
	p.stats.TaskSucceeded()
	p.metrics.taskOutcome("success")
	return nil
}

// attempt runs the processor in a sub-goroutine so the timeout frees the
// worker even if the processor ignores cancellation. A late result from an
// abandoned attempt is discarded.
func (p *Pool) attempt(ctx context.Context, id int, spec circuit.Spec) (*circuit.Result, error) {
	taskCtx := ctx
	cancel := func() {}
	if p.timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer cancel()

	type outcome struct {
		res *circuit.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.processor.Process(taskCtx, spec, id)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperrors.SimulationTimeout(spec.ID)
		}
		return o.res, o.err
	case <-taskCtx.Done():
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperrors.SimulationTimeout(spec.ID)
		}
		return nil, taskCtx.Err()
	}
}

// persist writes the artifact and its metadata into the local archive.
func (p *Pool) persist(ctx context.Context, res *circuit.Result) error {
	artifact := storage.ArtifactPath(res.Hash, res.Method)
	if err := p.store.Upload(ctx, artifact, bytes.NewReader(res.Payload)); err != nil {
		return err
	}

	meta, err := json.Marshal(res)
	if err != nil {
		return apperrors.Extraction(err)
	}
	return p.store.Upload(ctx, storage.MetadataPath(res.Hash), bytes.NewReader(meta))
}

// retryableTask reports whether a failed task is worth one more attempt.
// Timeouts are not: the retry would spend the same budget again.
func retryableTask(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeGeneration, apperrors.ErrCodeExtraction, apperrors.ErrCodeUnknown:
		return true
	default:
		return false
	}
}
