package circuit

import (
	"math/rand"

	"github.com/google/uuid"
)

// SourceConfig bounds the specs a Source produces.
type SourceConfig struct {
	MinQubits int
	MaxQubits int
	MinDepth  int
	MaxDepth  int
	// BaseSeed is the first task seed; task n gets BaseSeed + n.
	BaseSeed            int64
	Measure             bool
	StoppingProbability float64
	MaxGenerators       int
}

// Source produces a deterministic sequence of circuit specs. Two sources
// with the same config emit the same generators, qubit counts and depths
// in the same order; only the task IDs differ. Not safe for concurrent
// use — the producer is the sole caller.
type Source struct {
	cfg    SourceConfig
	offset int64
}

// NewSource creates a spec source over the given bounds.
func NewSource(cfg SourceConfig) *Source {
	return &Source{cfg: cfg}
}

// Next returns the next spec in the sequence.
func (s *Source) Next() Spec {
	seed := s.cfg.BaseSeed + s.offset
	s.offset++

	rng := rand.New(rand.NewSource(seed))
	kinds := Generators()

	spec := Spec{
		ID:                  uuid.NewString(),
		Generator:           kinds[rng.Intn(len(kinds))],
		Qubits:              intBetween(rng, s.cfg.MinQubits, s.cfg.MaxQubits),
		Depth:               intBetween(rng, s.cfg.MinDepth, s.cfg.MaxDepth),
		Seed:                seed,
		Measure:             s.cfg.Measure,
		StoppingProbability: s.cfg.StoppingProbability,
		MaxGenerators:       s.cfg.MaxGenerators,
	}
	return spec
}

// Offset returns the number of specs issued so far.
func (s *Source) Offset() int64 {
	return s.offset
}

func intBetween(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
