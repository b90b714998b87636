package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/inferq/circuitpipe/circuit"
	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/storage"
)

// memStore is an in-memory Storage with failure injection.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// failNext makes the next N uploads fail with failErr.
	failNext int
	failErr  error
	uploads  int
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) failUploads(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

func (m *memStore) Upload(ctx context.Context, path string, reader io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[path] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *memStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memStore) URL(ctx context.Context, path string) (string, error) {
	return "mem://" + path, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []storage.FileInfo
	for path, data := range m.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, storage.FileInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (m *memStore) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for path := range m.objects {
		if strings.HasPrefix(path, prefix) {
			keys = append(keys, path)
		}
	}
	return keys
}

// collectSink records every outcome it receives.
type collectSink struct {
	mu       sync.Mutex
	results  []*circuit.Result
	failures []*Failure
}

func (s *collectSink) Add(ctx context.Context, res *circuit.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *collectSink) AddFailure(ctx context.Context, f *Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, f)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *collectSink) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

// collectQueue records sealed batches.
type collectQueue struct {
	mu      sync.Mutex
	batches []*Batch
}

func (q *collectQueue) Enqueue(ctx context.Context, b *Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, b)
	return nil
}

func (q *collectQueue) all() []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Batch(nil), q.batches...)
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "disabled", Format: "json"})
}

func testFailure(id string, code apperrors.ErrorCode) *Failure {
	return &Failure{
		TaskID:    id,
		Generator: circuit.GeneratorGHZ,
		Code:      code,
		Message:   "task " + id + " failed",
		At:        time.Now(),
	}
}

func testResult(id string) *circuit.Result {
	payload := []byte("payload-" + id)
	return &circuit.Result{
		TaskID:    id,
		Hash:      circuit.HashPayload(payload),
		Generator: circuit.GeneratorGHZ,
		Payload:   payload,
		Method:    "qpy",
	}
}

// failingProcessor fails for seeds listed in fail, succeeds otherwise.
type failingProcessor struct {
	inner circuit.Processor
	fail  map[int64]error
}

func (p *failingProcessor) Process(ctx context.Context, spec circuit.Spec, workerID int) (*circuit.Result, error) {
	if err, ok := p.fail[spec.Seed]; ok {
		return nil, err
	}
	return p.inner.Process(ctx, spec, workerID)
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
