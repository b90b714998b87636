package pipeline

import (
	"context"

	"github.com/inferq/circuitpipe/circuit"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/resilience"
)

// Producer issues circuit specs onto the task channel. It is the sole
// writer: every spec is sent exactly once, and the channel is closed when
// production ends, so workers see a clean drain.
type Producer struct {
	source     *circuit.Source
	iterations int64
	limiter    *resilience.RateLimiter
	stats      *Stats
	log        *logger.Logger
}

// NewProducer creates a producer over the given spec source.
// iterations 0 means unbounded; limiter nil means unthrottled.
func NewProducer(source *circuit.Source, iterations int64, limiter *resilience.RateLimiter, stats *Stats, log *logger.Logger) *Producer {
	return &Producer{
		source:     source,
		iterations: iterations,
		limiter:    limiter,
		stats:      stats,
		log:        log.WithComponent("producer"),
	}
}

// Run produces specs until the iteration budget is spent or ctx is
// canceled, then closes out. Always returns nil on cancellation — stopping
// the producer is how a drain begins, not an error.
func (p *Producer) Run(ctx context.Context, out chan<- circuit.Spec) error {
	defer close(out)

	var issued int64
	for p.iterations == 0 || issued < p.iterations {
		if ctx.Err() != nil {
			break
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				break
			}
		}

		spec := p.source.Next()
		select {
		case out <- spec:
			issued++
			p.stats.TaskProduced()
		case <-ctx.Done():
			p.log.Debug("production stopped", map[string]interface{}{"issued": issued})
			return nil
		}
	}

	p.log.Info("production complete", map[string]interface{}{"issued": issued})
	return nil
}
