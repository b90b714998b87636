// Package circuit defines the task and result types flowing through the
// pipeline: circuit specifications to generate, and the generated artifacts
// with their content hashes and metadata.
package circuit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Generator identifies a circuit family.
type Generator string

const (
	GeneratorGHZ           Generator = "ghz"
	GeneratorQFT           Generator = "qft"
	GeneratorQFTEntangled  Generator = "qft_entangled"
	GeneratorWState        Generator = "wstate"
	GeneratorGraphState    Generator = "graph_state"
	GeneratorRandom        Generator = "random"
	GeneratorEfficientU2   Generator = "efficient_u2"
	GeneratorTwoLocal      Generator = "two_local"
	GeneratorRealAmplitude Generator = "real_amplitude"
)

// Generators returns all known circuit families in a fixed order.
func Generators() []Generator {
	return []Generator{
		GeneratorGHZ,
		GeneratorQFT,
		GeneratorQFTEntangled,
		GeneratorWState,
		GeneratorGraphState,
		GeneratorRandom,
		GeneratorEfficientU2,
		GeneratorTwoLocal,
		GeneratorRealAmplitude,
	}
}

// Spec describes one circuit to generate. Specs are the unit of work
// handed to the worker pool; each carries everything a generator needs
// to reproduce the circuit deterministically.
type Spec struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`
	// Generator selects the circuit family.
	Generator Generator `json:"generator"`
	// Qubits is the circuit width.
	Qubits int `json:"qubits"`
	// Depth bounds the circuit depth.
	Depth int `json:"depth"`
	// Seed drives all randomness for this spec.
	Seed int64 `json:"seed"`
	// Measure appends measurement operations.
	Measure bool `json:"measure"`
	// StoppingProbability controls hierarchical generation depth.
	StoppingProbability float64 `json:"stopping_probability,omitempty"`
	// MaxGenerators caps sub-generators merged into one circuit.
	MaxGenerators int `json:"max_generators,omitempty"`
}

// Result is one generated circuit artifact with its metadata.
type Result struct {
	// TaskID is the ID of the Spec this result came from.
	TaskID string `json:"task_id"`
	// Hash is the SHA-256 content hash of the payload, hex-encoded.
	// Identical circuits hash identically regardless of when or where
	// they were generated.
	Hash string `json:"hash"`
	// Generator is the circuit family that produced this artifact.
	Generator Generator `json:"generator"`
	// Payload is the serialized circuit.
	Payload []byte `json:"-"`
	// Method names the serialization format of Payload (e.g. "qpy").
	Method string `json:"method"`
	// Metadata carries extracted circuit features (qubit count, depth,
	// gate counts, payload size).
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	// WorkerID is the worker that produced the result.
	WorkerID int `json:"worker_id"`
	// StartedAt and FinishedAt bound the processing time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the circuit took to process.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HashPayload computes the hex-encoded SHA-256 content hash of a
// serialized circuit.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
