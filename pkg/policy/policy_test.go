// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/cipikiko/Hatogoya/pkg/insights"
	"github.com/cipikiko/Hatogoya/pkg/recipe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balancedInsights(numSamples int) *insights.Insights {
	return &insights.Insights{
		Split:          "train",
		NumSamples:     numSamples,
		NumClasses:     2,
		ClassCounts:    []int{numSamples / 2, numSamples - numSamples/2},
		ImbalanceRatio: 1,
		Channels:       3,
		Height:         224,
		Width:          224,
	}
}

func TestLinearScaling(t *testing.T) {
	r, d := Derive(balancedInsights(10_000), 64, Options{Architecture: "resnet50", Device: "cuda", DatasetPath: "x.h5"})
	assert.Equal(t, 5e-4, r.Train.LearningRate)
	assert.Equal(t, 64, d.GlobalBatchSize)

	assert.Equal(t, 1e-3, LinearScaledLR(5e-4, 64, 128))
	assert.Equal(t, 2.5e-4, LinearScaledLR(5e-4, 64, 32))
	assert.Equal(t, 256, GlobalBatchSize(32, 4, 2))
	assert.Equal(t, 32, GlobalBatchSize(32, 0, 0))
}

func TestStepsAndEpochs(t *testing.T) {
	steps, epochs := StepsAndEpochs(10_000, 100, 20_000)
	assert.Equal(t, 100, steps)
	assert.Equal(t, 200, epochs)

	steps, epochs = StepsAndEpochs(10_001, 100, 20_000)
	assert.Equal(t, 101, steps)
	assert.Equal(t, 198, epochs)

	// Huge datasets still train for one epoch.
	steps, epochs = StepsAndEpochs(10_000_000, 64, 20_000)
	assert.Equal(t, 156_250, steps)
	assert.Equal(t, 1, epochs)

	// Round half to even.
	_, epochs = StepsAndEpochs(400, 100, 10)
	assert.Equal(t, 2, epochs)
	_, epochs = StepsAndEpochs(400, 100, 14)
	assert.Equal(t, 4, epochs)
}

func TestImbalancePolicies(t *testing.T) {
	assert.Equal(t, 0.0, MixupAlpha(1))
	assert.Equal(t, 0.0, MixupAlpha(1.49))
	assert.Equal(t, 0.2, MixupAlpha(1.5))
	assert.Equal(t, 0.2, MixupAlpha(2))
	assert.Equal(t, 0.4, MixupAlpha(3))
	assert.Equal(t, 0.4, MixupAlpha(4))
	assert.False(t, UseWeightedSampler(1.2))
	assert.True(t, UseWeightedSampler(2))

	in := balancedInsights(1000)
	in.ImbalanceRatio = 2
	r, _ := Derive(in, 32, Options{Architecture: "resnet18"})
	assert.Equal(t, 0.2, r.Train.MixupAlpha)
	assert.True(t, r.Train.UseWeightedSampler)

	in.ImbalanceRatio = 4
	r, _ = Derive(in, 32, Options{Architecture: "resnet18"})
	assert.Equal(t, 0.4, r.Train.MixupAlpha)
}

func TestWeightDecay(t *testing.T) {
	assert.Equal(t, TransformerWeightDecay, WeightDecay("ViT_Base_Patch16_224"))
	assert.Equal(t, TransformerWeightDecay, WeightDecay("swin_tiny"))
	assert.Equal(t, TransformerWeightDecay, WeightDecay("deit_small"))
	assert.Equal(t, DefaultWeightDecay, WeightDecay("resnet50"))
	assert.Equal(t, DefaultWeightDecay, WeightDecay("efficientnet_b0"))
}

func TestWarmupEpochs(t *testing.T) {
	assert.Equal(t, 3, WarmupEpochs(1))
	assert.Equal(t, 10, WarmupEpochs(1000))
	assert.Equal(t, 4, WarmupEpochs(38))
	assert.Equal(t, 6, WarmupEpochs(55))
	for epochs := 1; epochs <= 2000; epochs++ {
		warmup := WarmupEpochs(epochs)
		require.GreaterOrEqual(t, warmup, MinWarmupEpochs)
		require.LessOrEqual(t, warmup, MaxWarmupEpochs)
	}
}

func TestValBatchSize(t *testing.T) {
	assert.Equal(t, 4, ValBatchSize(1))
	assert.Equal(t, 32, ValBatchSize(8))
	assert.Equal(t, 32, ValBatchSize(16))
	assert.Equal(t, 128, ValBatchSize(64))
}

func TestDeriveDefaults(t *testing.T) {
	in := balancedInsights(1000)
	in.Height, in.Width = 300, 200
	r, d := Derive(in, 16, Options{Architecture: "resnet50", Device: "cuda", DatasetPath: "data/plants.h5"})
	require.NoError(t, r.Validate())
	assert.Equal(t, DefaultSeed, r.Seed)
	assert.Equal(t, 300, r.Data.ImageSize)
	assert.Equal(t, 300, r.Train.ImageSize)
	assert.Equal(t, min(MaxNumWorkers, runtime.NumCPU()), r.Data.NumWorkers)
	assert.Equal(t, 2, r.Data.PrefetchFactor)
	assert.True(t, r.Data.CUDAPrefetch)
	assert.Equal(t, "cuda", r.Train.Device)
	assert.Equal(t, 1, r.Train.AccumulateSteps)
	assert.Equal(t, 1.0, r.Train.MaxGradNorm)
	assert.Equal(t, 0.0, r.Train.LabelSmoothing)
	assert.False(t, r.Train.GradCheckpoint)
	assert.Nil(t, r.Train.ValMaxBatches)
	assert.Nil(t, r.Train.MaxStepsPerEpoch)
	assert.Equal(t, DefaultBestCheckpoint, r.Paths.BestCheckpoint)
	assert.Equal(t, DefaultLastCheckpoint, r.Paths.LastCheckpoint)
	assert.Equal(t, 63, d.StepsPerEpoch)
	assert.Equal(t, 317, r.Train.Epochs)
	assert.Equal(t, 10, r.Train.WarmupEpochs)
	assert.Equal(t, 2.5e-4/2, r.Train.LearningRate)

	r, _ = Derive(in, 16, Options{Architecture: "vit_small", ImageSize: 224, Device: "cpu", DatasetPath: "x.h5"})
	assert.Equal(t, 224, r.Data.ImageSize)
	assert.False(t, r.Data.CUDAPrefetch)
	assert.Equal(t, 0.05, r.Train.WeightDecay)
}

func TestDeriveReadsBack(t *testing.T) {
	in := balancedInsights(12_345)
	in.ImbalanceRatio = 2.5
	for _, accumulateSteps := range []int{1, 3, 7} {
		t.Run(fmt.Sprintf("accumulate=%d", accumulateSteps), func(t *testing.T) {
			r, d := Derive(in, 1013, Options{
				Architecture:     "vit_small",
				Device:           "cuda",
				DatasetPath:      "data/plants.h5",
				BaseLearningRate: 3e-4,
				AccumulateSteps:  accumulateSteps,
				WorldSize:        3,
			})
			assert.Equal(t, 1013*accumulateSteps*3, d.GlobalBatchSize)
			unrounded := LinearScaledLR(3e-4, DefaultBaseGlobalBatchSize, d.GlobalBatchSize)
			assert.InEpsilon(t, unrounded, r.Train.LearningRate, 1e-7)

			data, err := recipe.Marshal(r)
			require.NoError(t, err)
			parsed, err := recipe.Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, r, parsed)
		})
	}
}
