package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes run counters to Prometheus. All components tolerate a nil
// Metrics, so tests can omit it.
type Metrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      prometheus.Histogram
	TasksInFlight     prometheus.Gauge
	BatchesDispatched prometheus.Counter
	BatchesSpooled    prometheus.Counter
	UploadFailures    prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewMetrics registers the pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitpipe_tasks_total",
			Help: "Tasks completed, partitioned by outcome.",
		}, []string{"outcome"}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "circuitpipe_task_duration_seconds",
			Help:    "Wall-clock time per task.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circuitpipe_tasks_in_flight",
			Help: "Tasks currently being processed by workers.",
		}),
		BatchesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "circuitpipe_batches_dispatched_total",
			Help: "Batches successfully synced to the remote store.",
		}),
		BatchesSpooled: factory.NewCounter(prometheus.CounterOpts{
			Name: "circuitpipe_batches_spooled_total",
			Help: "Batches written to the local spool after dispatch gave up.",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "circuitpipe_upload_failures_total",
			Help: "Individual upload attempts that failed.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "circuitpipe_dispatch_queue_depth",
			Help: "Sealed batches waiting for the dispatcher.",
		}),
	}
}

func (m *Metrics) taskOutcome(outcome string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(seconds)
}

func (m *Metrics) inFlight(delta float64) {
	if m == nil {
		return
	}
	m.TasksInFlight.Add(delta)
}

func (m *Metrics) batchDispatched() {
	if m == nil {
		return
	}
	m.BatchesDispatched.Inc()
}

func (m *Metrics) batchSpooled() {
	if m == nil {
		return
	}
	m.BatchesSpooled.Inc()
}

func (m *Metrics) uploadFailure() {
	if m == nil {
		return
	}
	m.UploadFailures.Inc()
}

func (m *Metrics) queueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
