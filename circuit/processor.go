package circuit

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// Processor turns a circuit spec into a generated artifact. Implementations
// must honor context cancellation; the pool enforces per-task timeouts by
// canceling the context.
type Processor interface {
	Process(ctx context.Context, spec Spec, workerID int) (*Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, spec Spec, workerID int) (*Result, error)

func (f ProcessorFunc) Process(ctx context.Context, spec Spec, workerID int) (*Result, error) {
	return f(ctx, spec, workerID)
}

// SyntheticProcessor is a deterministic in-process stand-in for an external
// circuit generator. It derives the artifact bytes purely from the spec seed,
// so identical specs yield identical hashes. It does not build or simulate
// real circuits.
type SyntheticProcessor struct {
	// Delay simulates per-task processing time. Zero means no delay.
	Delay time.Duration
	// Method names the pretended serialization format.
	Method string
}

// NewSyntheticProcessor returns a synthetic processor producing "qpy"
// artifacts with no delay.
func NewSyntheticProcessor() *SyntheticProcessor {
	return &SyntheticProcessor{Method: "qpy"}
}

func (p *SyntheticProcessor) Process(ctx context.Context, spec Spec, workerID int) (*Result, error) {
	started := time.Now()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	payload := syntheticPayload(spec)
	method := p.Method
	if method == "" {
		method = "qpy"
	}

	return &Result{
		TaskID:    spec.ID,
		Hash:      HashPayload(payload),
		Generator: spec.Generator,
		Payload:   payload,
		Method:    method,
		Metadata: map[string]interface{}{
			"num_qubits": spec.Qubits,
			"depth":      spec.Depth,
			"size_bytes": len(payload),
			"generator":  string(spec.Generator),
			"measured":   spec.Measure,
		},
		WorkerID:   workerID,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}

// syntheticPayload derives pseudo circuit bytes from the spec. The header
// pins the spec parameters so distinct specs never collide; the body is
// seed-derived filler sized to the circuit.
func syntheticPayload(spec Spec) []byte {
	header := fmt.Sprintf("%s/q%d/d%d/m%t\n", spec.Generator, spec.Qubits, spec.Depth, spec.Measure)

	size := spec.Qubits * spec.Depth
	if size < 16 {
		size = 16
	}
	if size > 1<<16 {
		size = 1 << 16
	}

	body := make([]byte, size)
	rng := rand.New(rand.NewSource(spec.Seed))
	chunk := make([]byte, 8)
	for i := 0; i < len(body); i += 8 {
		binary.LittleEndian.PutUint64(chunk, rng.Uint64())
		copy(body[i:], chunk)
	}

	return append([]byte(header), body...)
}
