// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package policy derives the training hyperparameters from the dataset insights and the probed batch size.
//
// All functions are pure: given the same inputs they return the same recipe.
package policy

import (
	"math"
	"runtime"
	"strings"

	"github.com/cipikiko/Hatogoya/pkg/insights"
	"github.com/cipikiko/Hatogoya/pkg/recipe"
	"golang.org/x/exp/constraints"
)

const (
	DefaultTargetUpdates       = 20_000
	DefaultBaseLearningRate    = 5e-4
	DefaultBaseGlobalBatchSize = 64
	DefaultSeed                = 42
	DefaultBestCheckpoint      = "ai/models/best.pt"
	DefaultLastCheckpoint      = "ai/models/last.pt"

	// MaxNumWorkers caps the default number of data loading workers.
	MaxNumWorkers = 8

	DefaultPrefetchFactor = 2
	DefaultMaxGradNorm    = 1.0

	// ImbalanceThreshold is the imbalance ratio from which mixup and the weighted sampler are used.
	ImbalanceThreshold = 1.5

	// StrongImbalanceThreshold is the imbalance ratio from which mixup is stronger.
	StrongImbalanceThreshold = 3.0

	TransformerWeightDecay = 0.05
	DefaultWeightDecay     = 1e-4

	MinWarmupEpochs = 3
	MaxWarmupEpochs = 10
)

// TransformerMarkers are substrings of the architecture names of the transformer families.
var TransformerMarkers = []string{"vit", "swin", "deit", "beit", "cait", "xcit", "eva", "maxvit"}

// Options of the derivation. Zero values take the defaults, see WithDefaults.
type Options struct {
	TargetUpdates       int
	BaseLearningRate    float64
	BaseGlobalBatchSize int
	AccumulateSteps     int
	WorldSize           int

	Architecture string
	Device       string
	DatasetPath  string

	// ImageSize is the training resolution. If 0, the larger of the inspected height and width.
	ImageSize int

	// NumWorkers for data loading. If 0, min(8, number of CPUs).
	NumWorkers int

	Seed                           int
	BestCheckpoint, LastCheckpoint string
}

// WithDefaults returns a copy of the options with the zero values replaced by the defaults.
func (opts Options) WithDefaults() Options {
	if opts.TargetUpdates <= 0 {
		opts.TargetUpdates = DefaultTargetUpdates
	}
	if opts.BaseLearningRate <= 0 {
		opts.BaseLearningRate = DefaultBaseLearningRate
	}
	if opts.BaseGlobalBatchSize <= 0 {
		opts.BaseGlobalBatchSize = DefaultBaseGlobalBatchSize
	}
	opts.AccumulateSteps = max(1, opts.AccumulateSteps)
	opts.WorldSize = max(1, opts.WorldSize)
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = min(MaxNumWorkers, runtime.NumCPU())
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.BestCheckpoint == "" {
		opts.BestCheckpoint = DefaultBestCheckpoint
	}
	if opts.LastCheckpoint == "" {
		opts.LastCheckpoint = DefaultLastCheckpoint
	}
	return opts
}

// Derivation holds the intermediate values of the derivation, for reporting.
type Derivation struct {
	GlobalBatchSize int
	StepsPerEpoch   int
	TotalUpdates    int
	Transformer     bool
}

// Derive the training recipe from the dataset insights and the per-device batch size.
//
// It requires in.NumSamples > 0 and batchSize > 0: callers must reject empty datasets upstream.
func Derive(in *insights.Insights, batchSize int, opts Options) (recipe.Recipe, Derivation) {
	opts = opts.WithDefaults()
	imageSize := opts.ImageSize
	if imageSize <= 0 {
		imageSize = max(in.Height, in.Width)
	}

	var d Derivation
	d.GlobalBatchSize = GlobalBatchSize(batchSize, opts.AccumulateSteps, opts.WorldSize)
	var epochs int
	d.StepsPerEpoch, epochs = StepsAndEpochs(in.NumSamples, d.GlobalBatchSize, opts.TargetUpdates)
	d.TotalUpdates = d.StepsPerEpoch * epochs
	d.Transformer = IsTransformer(opts.Architecture)

	// Rounded as it will be serialized, so the recipe reads back the same.
	lr := recipe.RoundSignificant(
		LinearScaledLR(opts.BaseLearningRate, opts.BaseGlobalBatchSize, d.GlobalBatchSize),
		recipe.SignificantDigits)

	r := recipe.Recipe{
		Seed: opts.Seed,
		Data: recipe.Data{
			HDF5Path:       opts.DatasetPath,
			ImageSize:      imageSize,
			NumWorkers:     opts.NumWorkers,
			PrefetchFactor: DefaultPrefetchFactor,
			CUDAPrefetch:   opts.Device == "cuda",
		},
		Train: recipe.Train{
			Device:             opts.Device,
			ModelName:          opts.Architecture,
			ImageSize:          imageSize,
			BatchSize:          batchSize,
			ValBatchSize:       ValBatchSize(batchSize),
			Epochs:             epochs,
			LearningRate:       lr,
			WeightDecay:        WeightDecay(opts.Architecture),
			LabelSmoothing:     0,
			WarmupEpochs:       WarmupEpochs(epochs),
			GradCheckpoint:     false,
			UseWeightedSampler: UseWeightedSampler(in.ImbalanceRatio),
			AccumulateSteps:    opts.AccumulateSteps,
			MixupAlpha:         MixupAlpha(in.ImbalanceRatio),
			MaxGradNorm:        DefaultMaxGradNorm,
		},
		Paths: recipe.Paths{BestCheckpoint: opts.BestCheckpoint, LastCheckpoint: opts.LastCheckpoint},
	}
	return r, d
}

// GlobalBatchSize is the number of examples per optimizer update.
func GlobalBatchSize(batchSize, accumulateSteps, worldSize int) int {
	return batchSize * max(1, accumulateSteps) * max(1, worldSize)
}

// StepsAndEpochs returns the number of optimizer steps per epoch, ceil(numSamples/globalBatchSize), and the
// number of epochs to reach about targetUpdates steps, at least 1.
func StepsAndEpochs(numSamples, globalBatchSize, targetUpdates int) (stepsPerEpoch, epochs int) {
	stepsPerEpoch = max(1, ceilDiv(numSamples, max(1, globalBatchSize)))
	epochs = max(1, int(math.RoundToEven(float64(targetUpdates)/float64(stepsPerEpoch))))
	return
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// LinearScaledLR scales the learning rate linearly with the global batch size.
func LinearScaledLR(baseLR float64, baseGlobalBatchSize, globalBatchSize int) float64 {
	return baseLR * float64(globalBatchSize) / float64(baseGlobalBatchSize)
}

// MixupAlpha is 0 for balanced datasets, 0.2 for imbalance ratios in [1.5, 3) and 0.4 above.
func MixupAlpha(imbalanceRatio float64) float64 {
	switch {
	case imbalanceRatio < ImbalanceThreshold:
		return 0
	case imbalanceRatio < StrongImbalanceThreshold:
		return 0.2
	default:
		return 0.4
	}
}

// UseWeightedSampler returns whether classes should be sampled inversely to their frequency.
func UseWeightedSampler(imbalanceRatio float64) bool {
	return imbalanceRatio >= ImbalanceThreshold
}

// IsTransformer returns whether the architecture name contains one of the TransformerMarkers, case-insensitive.
func IsTransformer(architecture string) bool {
	name := strings.ToLower(architecture)
	for _, marker := range TransformerMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// WeightDecay is stronger for transformers.
func WeightDecay(architecture string) float64 {
	if IsTransformer(architecture) {
		return TransformerWeightDecay
	}
	return DefaultWeightDecay
}

// WarmupEpochs is 10% of the epochs, clamped to [3, 10].
func WarmupEpochs(epochs int) int {
	return clamp(int(math.RoundToEven(0.1*float64(epochs))), MinWarmupEpochs, MaxWarmupEpochs)
}

// ValBatchSize is twice the training batch size, at least 32 but never more than 4 times the training batch size.
func ValBatchSize(batchSize int) int {
	return min(max(32, 2*batchSize), 4*batchSize)
}

func clamp[T constraints.Ordered](value, lower, upper T) T {
	return max(lower, min(upper, value))
}
