package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/resilience"
	"github.com/inferq/circuitpipe/storage"
)

// DispatcherConfig assembles a dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the sealed-batch queue. A full queue blocks the
	// accumulator, which blocks workers — intentional backpressure.
	QueueSize int
	// Attempts bounds upload retries per batch before spooling.
	Attempts int
	// Remote is the sync target. Nil means remote sync is disabled and
	// batches are acknowledged locally.
	Remote storage.Storage
	// Spool receives batches that exhausted their upload attempts.
	Spool storage.Storage
	// Index records which hashes reached the remote store.
	Index *storage.Index

	BreakerThreshold int
	BreakerCooldown  time.Duration

	Stats   *Stats
	Metrics *Metrics
	Log     *logger.Logger
}

// Dispatcher uploads sealed batches asynchronously. Transient failures are
// retried with exponential backoff; repeated failure trips a circuit breaker
// that sends batches straight to the local spool until the cooldown passes.
// A batch always ends up somewhere: remote store or spool.
type Dispatcher struct {
	queue     chan *Batch
	remote    storage.Storage
	spool     storage.Storage
	index     *storage.Index
	retry     resilience.RetryConfig
	breaker   *resilience.Breaker
	stats     *Stats
	metrics   *Metrics
	log       *logger.Logger
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher with its own bounded queue.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	log := cfg.Log.WithComponent("dispatcher")

	retry := resilience.DefaultRetryConfig()
	if cfg.Attempts > 0 {
		retry.MaxAttempts = cfg.Attempts
	}
	retry.RetryIf = func(err error) bool {
		if errors.Is(err, resilience.ErrBreakerOpen) {
			return false
		}
		return resilience.DefaultRetryIf(err)
	}

	d := &Dispatcher{
		queue:   make(chan *Batch, cfg.QueueSize),
		remote:  cfg.Remote,
		spool:   cfg.Spool,
		index:   cfg.Index,
		retry:   retry,
		stats:   cfg.Stats,
		metrics: cfg.Metrics,
		log:     log,
	}
	d.retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		d.stats.UploadFailure()
		d.metrics.uploadFailure()
		log.Warn("upload attempt failed", map[string]interface{}{
			logger.FieldAttempt: attempt,
			logger.FieldError:   err.Error(),
			"backoff":           backoff.String(),
		})
	}
	d.breaker = resilience.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, func(from, to resilience.BreakerState) {
		log.Warn("remote sync breaker state changed", map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		})
	})
	return d
}

// Enqueue hands a sealed batch to the dispatcher, blocking while the queue
// is full.
func (d *Dispatcher) Enqueue(ctx context.Context, b *Batch) error {
	select {
	case d.queue <- b:
		d.metrics.queueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting batches. Run returns after draining what was
// already queued.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
}

// Run processes queued batches until Close and the queue drains. On hard
// cancellation it spools whatever is still queued so nothing is lost.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.spoolRemaining()
			return ctx.Err()
		case b, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.metrics.queueDepth(len(d.queue))
			if err := d.dispatch(ctx, b); err != nil {
				return err
			}
		}
	}
}

// dispatch uploads one batch, falling back to the spool. The returned error
// is non-nil only when even spooling failed fatally.
func (d *Dispatcher) dispatch(ctx context.Context, b *Batch) error {
	if d.remote == nil {
		// Remote sync disabled; the local archive is the destination.
		d.acknowledge(b)
		return nil
	}

	attempts, err := resilience.Retry(ctx, d.retry, func() error {
		return d.breaker.Execute(func() error {
			return d.upload(ctx, b)
		})
	})
	if err == nil {
		d.acknowledge(b)
		d.log.Info("batch synced", map[string]interface{}{
			logger.FieldBatchID: b.ID,
			logger.FieldAttempt: attempts,
			"results":           len(b.Results),
			"failures":          len(b.Failures),
		})
		return nil
	}

	exhausted := apperrors.DispatchExhausted(b.ID, attempts, err)
	d.log.Error("batch dispatch exhausted, spooling", map[string]interface{}{
		logger.FieldBatchID: b.ID,
		logger.FieldAttempt: attempts,
		logger.FieldError:   exhausted.Error(),
	})
	return d.spoolBatch(context.WithoutCancel(ctx), b)
}

// upload pushes every artifact, its metadata, and the batch manifest to the
// remote store. Paths are content-addressed so a retried upload is
// idempotent.
func (d *Dispatcher) upload(ctx context.Context, b *Batch) error {
	for _, res := range b.Results {
		if err := d.remote.Upload(ctx, storage.ArtifactPath(res.Hash, res.Method), bytes.NewReader(res.Payload)); err != nil {
			return apperrors.DispatchTransient(err)
		}
		meta, err := json.Marshal(res)
		if err != nil {
			return apperrors.DispatchTransient(err)
		}
		if err := d.remote.Upload(ctx, storage.MetadataPath(res.Hash), bytes.NewReader(meta)); err != nil {
			return apperrors.DispatchTransient(err)
		}
	}

	manifest, err := json.Marshal(batchManifest{
		ID:       b.ID,
		SealedAt: b.SealedAt,
		Count:    b.Size(),
		Hashes:   b.Hashes(),
		Failures: b.Failures,
	})
	if err != nil {
		return apperrors.DispatchTransient(err)
	}
	if err := d.remote.Upload(ctx, storage.BatchManifestPath(b.ID), bytes.NewReader(manifest)); err != nil {
		return apperrors.DispatchTransient(err)
	}
	return nil
}

type batchManifest struct {
	ID       string     `json:"id"`
	SealedAt time.Time  `json:"sealed_at"`
	Count    int        `json:"count"`
	Hashes   []string   `json:"hashes"`
	Failures []*Failure `json:"failures,omitempty"`
}

// spooledBatch is the durable on-disk form of an undelivered batch,
// payloads included so replay needs nothing else.
type spooledBatch struct {
	Batch    *Batch            `json:"batch"`
	Payloads map[string][]byte `json:"payloads"`
}

func (d *Dispatcher) spoolBatch(ctx context.Context, b *Batch) error {
	d.stats.BatchSpooled()
	d.metrics.batchSpooled()

	if d.spool == nil {
		d.log.Error("no spool configured, batch dropped", map[string]interface{}{
			logger.FieldBatchID: b.ID,
		})
		return nil
	}

	payloads := make(map[string][]byte, len(b.Results))
	for _, res := range b.Results {
		payloads[res.Hash] = res.Payload
	}
	data, err := json.Marshal(spooledBatch{Batch: b, Payloads: payloads})
	if err != nil {
		d.log.Error("spool encoding failed", map[string]interface{}{
			logger.FieldBatchID: b.ID,
			logger.FieldError:   err.Error(),
		})
		return nil
	}

	if err := d.spool.Upload(ctx, storage.SpoolPath(b.ID), bytes.NewReader(data)); err != nil {
		if apperrors.IsFatal(err) {
			return err
		}
		d.log.Error("spooling batch failed", map[string]interface{}{
			logger.FieldBatchID: b.ID,
			logger.FieldError:   err.Error(),
		})
		return nil
	}

	d.log.Info("batch spooled for replay", map[string]interface{}{
		logger.FieldBatchID: b.ID,
		"results":           len(b.Results),
	})
	return nil
}

// acknowledge records a delivered batch.
func (d *Dispatcher) acknowledge(b *Batch) {
	if d.index != nil {
		d.index.MarkUploaded(b.Hashes()...)
	}
	d.stats.BatchDispatched()
	d.metrics.batchDispatched()
}

// spoolRemaining drains the queue into the spool after a hard cancel.
func (d *Dispatcher) spoolRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case b, ok := <-d.queue:
			if !ok {
				return
			}
			_ = d.spoolBatch(ctx, b)
		default:
			return
		}
	}
}
