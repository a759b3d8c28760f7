// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package advisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/cipikiko/Hatogoya/pkg/models"
	"github.com/cipikiko/Hatogoya/pkg/policy"
	"github.com/gomlx/gomlx/pkg/ml/context"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyContext(t *testing.T) {
	ctx := DefaultContext()
	var opts Options
	opts.ApplyContext(ctx)
	assert.Equal(t, policy.DefaultTargetUpdates, opts.Policy.TargetUpdates)
	assert.Equal(t, policy.DefaultBaseLearningRate, opts.Policy.BaseLearningRate)
	assert.Equal(t, 1, opts.Policy.AccumulateSteps)
	assert.Equal(t, capacity.DefaultHeadroomFraction, opts.Capacity.HeadroomFraction)
	assert.Equal(t, capacity.DefaultMaxBatch, opts.Capacity.MaxBatch)
	assert.Equal(t, map[string]any{models.ParamNormalization: "batch"}, opts.Capacity.ModelParams)

	ctx.SetParams(map[string]any{
		ParamTargetUpdates:        5000,
		ParamHeadroom:             0.5,
		ParamMaxBatch:             256,
		ParamBestCheckpoint:       "runs/best.pt",
		models.ParamNormalization: "layer",
	})
	opts.ApplyContext(ctx)
	assert.Equal(t, 5000, opts.Policy.TargetUpdates)
	assert.Equal(t, "runs/best.pt", opts.Policy.BestCheckpoint)
	assert.Equal(t, 0.5, opts.Capacity.HeadroomFraction)
	assert.Equal(t, 256, opts.Capacity.MaxBatch)
	assert.Equal(t, "layer", opts.Capacity.ModelParams[models.ParamNormalization])

	// Missing parameters take the defaults.
	opts = Options{}
	opts.ApplyContext(context.New())
	assert.Equal(t, policy.DefaultSeed, opts.Policy.Seed)
	assert.Equal(t, capacity.DefaultMinBatch, opts.Capacity.MinBatch)
}

func TestApplyContextSettings(t *testing.T) {
	ctx := DefaultContext()
	settingsFile := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(settingsFile,
		[]byte("# Multi-node run.\nworld_size=3;accumulate_steps=7\nmodel_normalization=layer\n"), 0o644))
	paramsSet, err := gomlxcli.ParseContextSettings(ctx,
		"target_updates=20_000;base_lr=3e-4;headroom=0.7;file:"+settingsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{ParamTargetUpdates, ParamBaseLearningRate, ParamHeadroom, ParamWorldSize,
		ParamAccumulateSteps, models.ParamNormalization}, paramsSet)
	assert.Contains(t, gomlxcli.SprintModifiedContextSettings(ctx, paramsSet), ParamWorldSize)

	var opts Options
	opts.ApplyContext(ctx)
	assert.Equal(t, 20_000, opts.Policy.TargetUpdates)
	assert.Equal(t, 3e-4, opts.Policy.BaseLearningRate)
	assert.Equal(t, 3, opts.Policy.WorldSize)
	assert.Equal(t, 7, opts.Policy.AccumulateSteps)
	assert.Equal(t, 0.7, opts.Capacity.HeadroomFraction)
	assert.Equal(t, "layer", opts.Capacity.ModelParams[models.ParamNormalization])

	_, err = gomlxcli.ParseContextSettings(ctx, "no_such_param=1")
	require.Error(t, err)
	_, err = gomlxcli.ParseContextSettings(ctx, "max_batch=3.5")
	require.Error(t, err)
}
