// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/cipikiko/Hatogoya/pkg/advisor"
	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/cipikiko/Hatogoya/pkg/dataset"
	"github.com/cipikiko/Hatogoya/pkg/insights"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func sampleSuggestion() *advisor.Suggestion {
	s := &advisor.Suggestion{
		Insights: &insights.Insights{
			Split:          "train",
			NumSamples:     12_000,
			NumClasses:     2,
			ClassCounts:    []int{4_000, 8_000},
			ImbalanceRatio: 2,
			Storage:        dataset.EncodedBytes,
			ClassNames:     []string{"acer", "betula"},
			Channels:       3, Height: 64, Width: 64,
			Stats: insights.Unavailable(errors.New("sampled images have different shapes")),
		},
		Device: "cpu",
		Capacity: capacity.Result{
			BatchSize: 96,
			Method:    capacity.MethodProbed,
			Trials: []capacity.Trial{
				{BatchSize: 512, Outcome: capacity.OutOfMemory, Duration: 3 * time.Second},
				{BatchSize: 96, Outcome: capacity.Fit, MemoryUsed: 1 << 30, MemoryTotal: 4 << 30, MemoryKnown: true,
					Duration: 250 * time.Millisecond},
			},
		},
	}
	s.Recipe.Train.Epochs = 160
	s.Recipe.Train.LearningRate = 7.5e-4
	s.Derivation.GlobalBatchSize = 96
	s.Derivation.StepsPerEpoch = 125
	return s
}

func TestReport(t *testing.T) {
	report := Report(sampleSuggestion())
	for _, want := range []string{
		"12,000", "encoded_bytes", "(3, 64, 64)", "unavailable: sampled images have different shapes",
		"acer", "betula", "out-of-memory", "1.0 GiB of 4.0 GiB (25.0%)", "250.00ms", "probed", "0.00075",
	} {
		assert.Contains(t, report, want)
	}
}

func TestClassesTableTruncates(t *testing.T) {
	in := &insights.Insights{ClassCounts: make([]int, MaxClassesReported+5)}
	table := ClassesTable(in)
	assert.Contains(t, table, "5 more")
	assert.Contains(t, table, "#19")
	assert.NotContains(t, table, "#20")
}

func TestProbeProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := NewProbeProgressTo(&buf, 1, 1024)
	cfg := capacity.Config{MinBatch: 1, MaxBatch: 1024, OnTrial: progress.OnTrial}
	result := capacity.Probe(runnerFunc(func(batchSize int) capacity.Trial {
		if batchSize > 100 {
			return capacity.Trial{Outcome: capacity.OutOfMemory}
		}
		return capacity.Trial{Outcome: capacity.Fit}
	}), cfg)
	progress.Done()
	progress.Done()
	assert.Equal(t, 100, result.BatchSize)
	assert.Contains(t, buf.String(), "converged, best 100")
}

type runnerFunc func(batchSize int) capacity.Trial

func (fn runnerFunc) Run(batchSize int) capacity.Trial { return fn(batchSize) }
