// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package advisor

import (
	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/cipikiko/Hatogoya/pkg/models"
	"github.com/cipikiko/Hatogoya/pkg/policy"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/sets"
)

// Hyperparameters of the advisor, set in the root scope of the context returned by DefaultContext.
const (
	ParamTargetUpdates       = "target_updates"
	ParamBaseLearningRate    = "base_lr"
	ParamBaseGlobalBatchSize = "base_global_batch"
	ParamAccumulateSteps     = "accumulate_steps"
	ParamWorldSize           = "world_size"
	ParamNumWorkers          = "num_workers"
	ParamSeed                = "seed"
	ParamBestCheckpoint      = "best_ckpt"
	ParamLastCheckpoint      = "last_ckpt"

	// ParamHeadroom is the fraction of the device memory a probe trial may use.
	ParamHeadroom = "headroom"

	ParamMinBatch = "min_batch"
	ParamMaxBatch = "max_batch"
)

// DefaultContext returns a context with all the advisor hyperparameters set to their defaults. They can be
// changed with the "-set" flag (see github.com/gomlx/gomlx/ui/commandline.ParseContextSettings), and read back
// into Options with ApplyContext.
func DefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		ParamTargetUpdates:       policy.DefaultTargetUpdates,
		ParamBaseLearningRate:    policy.DefaultBaseLearningRate,
		ParamBaseGlobalBatchSize: policy.DefaultBaseGlobalBatchSize,
		ParamAccumulateSteps:     1,
		ParamWorldSize:           1,
		ParamNumWorkers:          0, // 0 means min(8, number of CPUs).
		ParamSeed:                policy.DefaultSeed,
		ParamBestCheckpoint:      policy.DefaultBestCheckpoint,
		ParamLastCheckpoint:      policy.DefaultLastCheckpoint,
		ParamHeadroom:            capacity.DefaultHeadroomFraction,
		ParamMinBatch:            capacity.DefaultMinBatch,
		ParamMaxBatch:            capacity.DefaultMaxBatch,

		models.ParamNormalization: "batch",
	})
	return ctx
}

// ApplyContext sets the policy and capacity options from the hyperparameters in ctx. Parameters missing
// from ctx take their defaults.
//
// Parameters unknown to the advisor, e.g. models.ParamNormalization, are passed to the models of the probe.
func (opts *Options) ApplyContext(ctx *context.Context) {
	opts.Policy.TargetUpdates = context.GetParamOr(ctx, ParamTargetUpdates, policy.DefaultTargetUpdates)
	opts.Policy.BaseLearningRate = context.GetParamOr(ctx, ParamBaseLearningRate, policy.DefaultBaseLearningRate)
	opts.Policy.BaseGlobalBatchSize = context.GetParamOr(ctx, ParamBaseGlobalBatchSize, policy.DefaultBaseGlobalBatchSize)
	opts.Policy.AccumulateSteps = context.GetParamOr(ctx, ParamAccumulateSteps, 1)
	opts.Policy.WorldSize = context.GetParamOr(ctx, ParamWorldSize, 1)
	opts.Policy.NumWorkers = context.GetParamOr(ctx, ParamNumWorkers, 0)
	opts.Policy.Seed = context.GetParamOr(ctx, ParamSeed, policy.DefaultSeed)
	opts.Policy.BestCheckpoint = context.GetParamOr(ctx, ParamBestCheckpoint, policy.DefaultBestCheckpoint)
	opts.Policy.LastCheckpoint = context.GetParamOr(ctx, ParamLastCheckpoint, policy.DefaultLastCheckpoint)

	opts.Capacity.HeadroomFraction = context.GetParamOr(ctx, ParamHeadroom, capacity.DefaultHeadroomFraction)
	opts.Capacity.MinBatch = context.GetParamOr(ctx, ParamMinBatch, capacity.DefaultMinBatch)
	opts.Capacity.MaxBatch = context.GetParamOr(ctx, ParamMaxBatch, capacity.DefaultMaxBatch)

	opts.Capacity.ModelParams = make(map[string]any)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope || advisorParams.Has(key) {
			return
		}
		opts.Capacity.ModelParams[key] = value
	})
}

var advisorParams = sets.MakeWith(
	ParamTargetUpdates, ParamBaseLearningRate, ParamBaseGlobalBatchSize, ParamAccumulateSteps, ParamWorldSize,
	ParamNumWorkers, ParamSeed, ParamBestCheckpoint, ParamLastCheckpoint, ParamHeadroom, ParamMinBatch,
	ParamMaxBatch)
