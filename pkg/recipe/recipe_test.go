// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package recipe

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecipe() Recipe {
	return Recipe{
		Seed: 42,
		Data: Data{
			HDF5Path:       "data/plants.h5",
			ImageSize:      224,
			NumWorkers:     8,
			PrefetchFactor: 2,
			CUDAPrefetch:   true,
		},
		Train: Train{
			Device:             "cuda",
			ModelName:          "resnet50",
			ImageSize:          224,
			BatchSize:          96,
			ValBatchSize:       192,
			Epochs:             38,
			LearningRate:       0.00075,
			WeightDecay:        1e-4,
			WarmupEpochs:       4,
			UseWeightedSampler: true,
			AccumulateSteps:    1,
			MixupAlpha:         0.2,
			MaxGradNorm:        1,
		},
		Paths: Paths{BestCheckpoint: "ai/models/best.pt", LastCheckpoint: "ai/models/last.pt"},
	}
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(sampleRecipe())
	require.NoError(t, err)
	text := string(data)

	// Top-level keys in order.
	var positions []int
	for _, key := range []string{"seed:", "data:", "train:", "paths:"} {
		pos := strings.Index(text, "\n"+key)
		if key == "seed:" {
			pos = strings.Index(text, key)
		}
		require.GreaterOrEqual(t, pos, 0, "key %q missing in:\n%s", key, text)
		positions = append(positions, pos)
	}
	assert.IsIncreasing(t, positions)

	for _, line := range []string{
		"seed: 42",
		"  hdf5_path: data/plants.h5",
		"  cuda_prefetch: true",
		"  lr: 0.00075",
		"  weight_decay: 0.0001",
		"  val_max_batches: null",
		"  max_steps_per_epoch: null",
		"  best_ckpt: ai/models/best.pt",
	} {
		assert.Contains(t, text, line+"\n")
	}
	assert.Less(t, strings.Index(text, "  batch_size:"), strings.Index(text, "  val_batch_size:"))
}

func TestRoundTrip(t *testing.T) {
	r := sampleRecipe()
	caps := 50
	r.Train.ValMaxBatches = &caps
	data, err := Marshal(r)
	require.NoError(t, err)
	parsed, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
	require.NoError(t, parsed.Validate())

	path := filepath.Join(t.TempDir(), "configs", "suggested.yaml")
	require.NoError(t, Save(path, r))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r, loaded)
}

func TestRoundSignificant(t *testing.T) {
	r := sampleRecipe()
	r.Train.LearningRate = 5e-4 * 96 / 64 * (1 + 1e-12)
	data, err := Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lr: 0.00075\n")
	assert.Equal(t, 0.12345679, RoundSignificant(0.123456789, 8))
}

func TestUnmarshalStrict(t *testing.T) {
	_, err := Unmarshal([]byte("seed: 1\ntrain:\n  learning_rate: 0.1\n"))
	require.Error(t, err)

	_, err = Unmarshal(nil)
	require.Error(t, err)

	r, err := Unmarshal([]byte("seed: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, r.Seed)
	require.Error(t, r.Validate())
}

func TestValidate(t *testing.T) {
	require.NoError(t, sampleRecipe().Validate())
	for name, mutate := range map[string]func(r *Recipe){
		"device":    func(r *Recipe) { r.Train.Device = "tpu" },
		"batch":     func(r *Recipe) { r.Train.BatchSize = 0 },
		"epochs":    func(r *Recipe) { r.Train.Epochs = -1 },
		"lr":        func(r *Recipe) { r.Train.LearningRate = 0 },
		"smoothing": func(r *Recipe) { r.Train.LabelSmoothing = 1 },
		"cap":       func(r *Recipe) { zero := 0; r.Train.MaxStepsPerEpoch = &zero },
		"workers":   func(r *Recipe) { r.Data.NumWorkers = -2 },
	} {
		r := sampleRecipe()
		mutate(&r)
		assert.Error(t, r.Validate(), "invalid %s should fail", name)
	}
}
