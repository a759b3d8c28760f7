// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassBalancedWeights(t *testing.T) {
	labels := []int64{7, 3, 7, 7, 3, 9}
	weights := ClassBalancedWeights(labels)
	require.Len(t, weights, len(labels))
	assert.InDeltaSlice(t, []float64{1.0 / 3, 0.5, 1.0 / 3, 1.0 / 3, 0.5, 1}, weights, 1e-12)

	// Each class adds up to the same total.
	var total7, total9 float64
	for ii, label := range labels {
		switch label {
		case 7:
			total7 += weights[ii]
		case 9:
			total9 += weights[ii]
		}
	}
	assert.InDelta(t, total9, total7, 1e-12)
	assert.Empty(t, ClassBalancedWeights(nil))
}

func TestClassWeights(t *testing.T) {
	labels := []int64{0, 0, 0, 1}
	weights, err := ClassWeights(labels, 2, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1}, weights, 1e-12)

	weights, err = ClassWeights(labels, 2, true)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, weights, 1e-12)

	_, err = ClassWeights(labels, 3, true)
	require.Error(t, err)

	weights, err = ClassWeights(nil, 3, true)
	require.NoError(t, err)
	assert.Nil(t, weights)
}

func TestWeightsFromCounts(t *testing.T) {
	assert.Equal(t, []float64{1, 0.25, 1}, WeightsFromCounts([]int{0, 4, 1}, false))
	normalized := WeightsFromCounts([]int{1, 1, 1}, true)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, normalized, 1e-12)
}
