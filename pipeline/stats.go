package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/inferq/circuitpipe/errors"
)

// Stats tracks run counters. All task-path methods are safe for concurrent
// use from workers and the dispatcher.
type Stats struct {
	startedAt time.Time

	produced   atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	inFlight   atomic.Int64

	batchesDispatched atomic.Int64
	batchesSpooled    atomic.Int64
	uploadFailures    atomic.Int64

	mu             sync.Mutex
	failuresByCode map[apperrors.ErrorCode]int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Produced          int64
	Succeeded         int64
	Failed            int64
	Duplicates        int64
	InFlight          int64
	BatchesDispatched int64
	BatchesSpooled    int64
	UploadFailures    int64
	FailuresByCode    map[apperrors.ErrorCode]int64
	Uptime            time.Duration
}

// RatePerMinute is the completed-task throughput since start.
func (s Snapshot) RatePerMinute() float64 {
	minutes := s.Uptime.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(s.Succeeded+s.Failed+s.Duplicates) / minutes
}

// NewStats creates a zeroed counter set anchored at now.
func NewStats() *Stats {
	return &Stats{
		startedAt:      time.Now(),
		failuresByCode: make(map[apperrors.ErrorCode]int64),
	}
}

func (s *Stats) TaskProduced() { s.produced.Add(1) }

func (s *Stats) TaskStarted() { s.inFlight.Add(1) }

func (s *Stats) TaskFinished() { s.inFlight.Add(-1) }

func (s *Stats) TaskSucceeded() { s.succeeded.Add(1) }

func (s *Stats) TaskDuplicate() { s.duplicates.Add(1) }

func (s *Stats) TaskFailed(code apperrors.ErrorCode) {
	s.failed.Add(1)
	s.mu.Lock()
	s.failuresByCode[code]++
	s.mu.Unlock()
}

func (s *Stats) BatchDispatched() { s.batchesDispatched.Add(1) }

func (s *Stats) BatchSpooled() { s.batchesSpooled.Add(1) }

func (s *Stats) UploadFailure() { s.uploadFailures.Add(1) }

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	byCode := make(map[apperrors.ErrorCode]int64, len(s.failuresByCode))
	for code, n := range s.failuresByCode {
		byCode[code] = n
	}
	s.mu.Unlock()

	return Snapshot{
		Produced:          s.produced.Load(),
		Succeeded:         s.succeeded.Load(),
		Failed:            s.failed.Load(),
		Duplicates:        s.duplicates.Load(),
		InFlight:          s.inFlight.Load(),
		BatchesDispatched: s.batchesDispatched.Load(),
		BatchesSpooled:    s.batchesSpooled.Load(),
		UploadFailures:    s.uploadFailures.Load(),
		FailuresByCode:    byCode,
		Uptime:            time.Since(s.startedAt),
	}
}
