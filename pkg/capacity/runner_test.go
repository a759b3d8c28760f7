// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cipikiko/Hatogoya/pkg/models"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppedMonitor reports whatever usage was last set, and signals once it reported used >= signalAt.
type steppedMonitor struct {
	mu       sync.Mutex
	used     uint64
	total    uint64
	signalAt uint64
	reached  chan struct{}
	once     sync.Once
}

func newSteppedMonitor(used, total, signalAt uint64) *steppedMonitor {
	return &steppedMonitor{used: used, total: total, signalAt: signalAt, reached: make(chan struct{})}
}

func (m *steppedMonitor) set(used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = used
}

func (m *steppedMonitor) Usage() (used, total uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signalAt > 0 && m.used >= m.signalAt {
		m.once.Do(func() { close(m.reached) })
	}
	return m.used, m.total, true
}

func TestPeakUsage(t *testing.T) {
	// Usage rises in the middle of the step, and it's back down by the time the step returns.
	monitor := newSteppedMonitor(100, 1000, 900)
	usage, err := PeakUsage(monitor, time.Millisecond, func() error {
		monitor.set(900)
		select {
		case <-monitor.reached:
		case <-time.After(10 * time.Second):
			return errors.New("memory was never sampled during the step")
		}
		monitor.set(150)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, MemoryUsage{Used: 900, Total: 1000, Known: true}, usage)
	used, _, _ := monitor.Usage()
	assert.Equal(t, uint64(150), used)

	// Step errors are returned, along with the usage.
	stepErr := errors.New("RESOURCE_EXHAUSTED")
	usage, err = PeakUsage(newSteppedMonitor(10, 1000, 0), time.Millisecond, func() error { return stepErr })
	require.ErrorIs(t, err, stepErr)
	assert.Equal(t, MemoryUsage{Used: 10, Total: 1000, Known: true}, usage)

	// No monitor.
	var called bool
	usage, err = PeakUsage(nil, time.Millisecond, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, usage.Known)
}

// skipIfNotImplemented skips the test if the backend can't train the models at all.
func skipIfNotImplemented(t *testing.T, trial Trial) {
	if trial.Outcome == Failed && trial.Err != nil && strings.Contains(trial.Err.Error(), "not implemented") {
		t.Skipf("backend can't run the training step: %v", trial.Err)
	}
}

func TestGoMLXRunner(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	monitor := newSteppedMonitor(950, 1000, 0)
	runner, err := NewGoMLXRunner(backend, Config{Architecture: "cnn", Resolution: 16}, monitor)
	require.NoError(t, err)

	trial := runner.Run(2)
	skipIfNotImplemented(t, trial)
	require.NoError(t, trial.Err)
	assert.Equal(t, Fit, trial.Outcome)
	assert.Equal(t, 2, trial.BatchSize)
	assert.Greater(t, trial.Duration, time.Duration(0))
	assert.True(t, trial.MemoryKnown)
	assert.Equal(t, uint64(950), trial.MemoryUsed)
	require.NoError(t, runner.Preflight(1))

	// The step completes, but it uses 95% of the memory.
	result := Probe(runner, Config{MinBatch: 2, MaxBatch: 2})
	require.Len(t, result.Trials, 1)
	assert.Equal(t, OverHeadroom, result.Trials[0].Outcome)
	assert.Equal(t, MethodProbed, result.Method)
	assert.Equal(t, 1, result.BatchSize)

	_, err = NewGoMLXRunner(backend, Config{Architecture: "cnn"}, nil)
	require.Error(t, err)
	_, err = NewGoMLXRunner(backend, Config{Architecture: "resnet500", Resolution: 16}, nil)
	require.Error(t, err)
}

func TestGoMLXRunnerPreflight(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	runner, err := NewGoMLXRunner(backend, Config{
		Architecture: "cnn",
		Resolution:   16,
		ModelParams:  map[string]any{models.ParamNormalization: "unknown"},
	}, nil)
	require.NoError(t, err)
	trial := runner.Run(1)
	assert.Equal(t, Failed, trial.Outcome)
	require.Error(t, trial.Err)
	assert.False(t, IsOutOfMemory(trial.Err))

	err = runner.Preflight(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid normalization type")
}
