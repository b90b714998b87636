package pipeline

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/inferq/circuitpipe/circuit"
	"github.com/inferq/circuitpipe/config"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/resilience"
	"github.com/inferq/circuitpipe/storage"
)

// State is the runner lifecycle phase. Transitions are one-way:
// starting → running → draining → stopped.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Runner owns one pipeline run end to end: it wires producer, pool,
// accumulator and dispatcher together, reacts to OS signals (first signal
// drains, second forces shutdown), flushes stale batches on a timer, and
// reports progress and the final summary.
type Runner struct {
	cfg        config.PipelineConfig
	producer   *Producer
	pool       *Pool
	acc        *Accumulator
	dispatcher *Dispatcher
	archive    *storage.Archive
	stats      *Stats
	log        *logger.Logger
	state      atomic.Int32
	// notify defaults to OS signals; tests override it.
	notify func(c chan os.Signal)
}

// NewRunner assembles a run from configuration. archive and remote may be
// nil (no local persistence, no remote sync respectively).
func NewRunner(cfg *config.Config, proc circuit.Processor, archive *storage.Archive, remote storage.Storage, metrics *Metrics, log *logger.Logger) *Runner {
	stats := NewStats()

	var store storage.Storage
	var index *storage.Index
	if archive != nil {
		store = archive.Store()
		index = archive.Index()
	}

	var limiter *resilience.RateLimiter
	if cfg.Pipeline.Rate > 0 {
		burst := int(cfg.Pipeline.Rate)
		if burst < 1 {
			burst = 1
		}
		limiter = resilience.NewRateLimiter(cfg.Pipeline.Rate, burst)
	}

	source := circuit.NewSource(circuit.SourceConfig{
		MinQubits:           cfg.Circuit.MinQubits,
		MaxQubits:           cfg.Circuit.MaxQubits,
		MinDepth:            cfg.Circuit.MinDepth,
		MaxDepth:            cfg.Circuit.MaxDepth,
		BaseSeed:            cfg.Circuit.Seed,
		Measure:             cfg.Circuit.Measure,
		StoppingProbability: cfg.Circuit.StoppingProbability,
		MaxGenerators:       cfg.Circuit.MaxGenerators,
	})

	dispatcher := NewDispatcher(DispatcherConfig{
		QueueSize: cfg.Pipeline.QueueSize,
		Attempts:  cfg.Pipeline.UploadAttempts,
		Remote:    remote,
		Spool:     store,
		Index:     index,
		Stats:     stats,
		Metrics:   metrics,
		Log:       log,
	})

	pool := NewPool(PoolConfig{
		Workers:   cfg.Pipeline.Workers,
		Timeout:   cfg.Pipeline.TaskTimeout,
		RetryOnce: cfg.Pipeline.RetryOnce,
		Processor: proc,
		Store:     store,
		Index:     index,
		Stats:     stats,
		Metrics:   metrics,
		Log:       log,
	})

	producer := NewProducer(source, int64(cfg.Pipeline.Iterations), limiter, stats, log)
	acc := NewAccumulator(cfg.Pipeline.BatchSize, cfg.Pipeline.MaxBatchAge, dispatcher, log)

	r := &Runner{
		cfg:        cfg.Pipeline,
		producer:   producer,
		pool:       pool,
		acc:        acc,
		dispatcher: dispatcher,
		archive:    archive,
		stats:      stats,
		log:        log.WithComponent("runner"),
	}
	r.notify = func(c chan os.Signal) {
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	}
	return r
}

// State returns the current lifecycle phase.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Stats returns the run counters.
func (r *Runner) Stats() *Stats {
	return r.stats
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// advance moves from exactly `from` to `to`; later states win races.
func (r *Runner) advance(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// Run executes the pipeline until the iteration budget is spent, a fatal
// error occurs, or a shutdown signal arrives. A nil return means a clean
// stop: all accepted work reached the dispatcher and the queue drained.
func (r *Runner) Run(ctx context.Context) error {
	r.setState(StateStarting)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	produceCtx, stopProduce := context.WithCancel(runCtx)
	defer stopProduce()

	sigCh := make(chan os.Signal, 2)
	r.notify(sigCh)
	defer signal.Stop(sigCh)
	go r.watchSignals(runCtx, sigCh, stopProduce, cancelRun)

	specs := make(chan circuit.Spec, r.pool.workers*2)

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- r.dispatcher.Run(runCtx) }()

	poolDone := make(chan error, 1)
	go func() { poolDone <- r.pool.Run(runCtx, specs, r.acc) }()

	prodDone := make(chan struct{})
	go func() {
		defer close(prodDone)
		_ = r.producer.Run(produceCtx, specs)
		// Natural exhaustion also begins the drain.
		if r.advance(StateRunning, StateDraining) {
			r.log.Info("iteration budget spent, draining")
		}
	}()

	r.setState(StateRunning)
	r.log.Info("pipeline running", map[string]interface{}{
		"workers":    r.pool.workers,
		"batch_size": r.acc.size,
	})

	syncInterval := r.cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}
	// The ticker is the only age check for an idle batch, so it must fire
	// at least once per max_batch_age.
	if r.cfg.MaxBatchAge > 0 && r.cfg.MaxBatchAge < syncInterval {
		syncInterval = r.cfg.MaxBatchAge
	}
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	var fatal error
	running := true
	for running {
		select {
		case <-ticker.C:
			if err := r.acc.FlushIfStale(runCtx); err != nil && runCtx.Err() == nil {
				r.log.Warn("stale flush failed", map[string]interface{}{logger.FieldError: err.Error()})
			}
			r.logStatus()
		case err := <-poolDone:
			running = false
			if err != nil {
				fatal = err
				cancelRun()
			}
		}
	}
	<-prodDone

	r.setState(StateDraining)
	if fatal == nil {
		if err := r.acc.Flush(runCtx); err != nil && runCtx.Err() == nil {
			r.log.Warn("final flush failed", map[string]interface{}{logger.FieldError: err.Error()})
		}
	}
	r.dispatcher.Close()
	if derr := <-dispatchDone; derr != nil && fatal == nil {
		// A canceled dispatcher means the run was force-terminated;
		// surface it so the process exits non-zero.
		fatal = derr
	}

	r.prune()
	r.setState(StateStopped)
	r.logSummary(fatal)
	return fatal
}

// watchSignals drains on the first signal and forces shutdown on the
// second.
func (r *Runner) watchSignals(ctx context.Context, sigCh <-chan os.Signal, stopProduce, cancelRun context.CancelFunc) {
	select {
	case sig := <-sigCh:
		r.log.Info("shutdown signal received, draining", map[string]interface{}{"signal": sig.String()})
		r.advance(StateRunning, StateDraining)
		stopProduce()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		r.log.Warn("second signal, forcing shutdown", map[string]interface{}{"signal": sig.String()})
		cancelRun()
	case <-ctx.Done():
	}
}

// prune removes old uploaded circuits from the local archive.
func (r *Runner) prune() {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := r.archive.Prune(ctx); err != nil {
		r.log.Warn("archive prune failed", map[string]interface{}{logger.FieldError: err.Error()})
	}
}

func (r *Runner) logStatus() {
	snap := r.stats.Snapshot()
	r.log.Info("pipeline status", map[string]interface{}{
		"state":        r.State().String(),
		"produced":     snap.Produced,
		"succeeded":    snap.Succeeded,
		"failed":       snap.Failed,
		"duplicates":   snap.Duplicates,
		"in_flight":    snap.InFlight,
		"batches":      snap.BatchesDispatched,
		"spooled":      snap.BatchesSpooled,
		"pending":      r.acc.Pending(),
		"rate_per_min": snap.RatePerMinute(),
	})
}

func (r *Runner) logSummary(fatal error) {
	snap := r.stats.Snapshot()
	fields := map[string]interface{}{
		"state":           r.State().String(),
		"elapsed":         snap.Uptime.Round(time.Millisecond).String(),
		"produced":        snap.Produced,
		"succeeded":       snap.Succeeded,
		"failed":          snap.Failed,
		"duplicates":      snap.Duplicates,
		"batches":         snap.BatchesDispatched,
		"spooled":         snap.BatchesSpooled,
		"upload_failures": snap.UploadFailures,
	}
	for code, n := range snap.FailuresByCode {
		fields["failed_"+string(code)] = n
	}
	if fatal != nil {
		fields[logger.FieldError] = fatal.Error()
		r.log.Error("pipeline run failed", fields)
		return
	}
	r.log.Info("pipeline run complete", fields)
}
