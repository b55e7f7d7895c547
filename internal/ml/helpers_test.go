package ml

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"fraud-serving/internal/features"

	"github.com/stretchr/testify/require"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	predictions int
	failures    int
	latencies   []float64
	timeouts    int
}

func (m *MockMetrics) MLPredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) MLFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, v)
}

func (m *MockMetrics) MLTimeoutsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *MockMetrics) counts() (predictions, failures, timeouts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predictions, m.failures, m.timeouts
}

func testVector() features.Vector {
	return features.Vector{
		Columns: []string{"transac_type", "amount", "src_bal"},
		Values:  []any{"TRANSFER", 1234.56, 5000.0},
	}
}

// writeStubWorker writes a shell script that speaks the worker line
// protocol, standing in for the Python interpreter.
func writeStubWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-python")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.joblib")
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o600))
	return path
}
