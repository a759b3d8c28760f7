// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupCosine(t *testing.T) {
	s := New(1e-3, 4, 20)
	assert.InDelta(t, 0.25e-3, s.At(0), 1e-12)
	assert.InDelta(t, 0.5e-3, s.At(1), 1e-12)
	assert.InDelta(t, 1e-3, s.At(3), 1e-12)
	assert.InDelta(t, 0.25e-3, s.At(-3), 1e-12)

	// First epoch after warmup is at the base learning rate, and it decays to MinLR at TotalEpochs.
	assert.InDelta(t, 1e-3, s.At(4), 1e-12)
	assert.InDelta(t, DefaultMinLR, s.At(20), 1e-12)
	midpoint := DefaultMinLR + 0.5*(1e-3-DefaultMinLR)
	assert.InDelta(t, midpoint, s.At(12), 1e-12)

	curve := s.Curve()
	require.Len(t, curve, 20)
	for epoch := 5; epoch < len(curve); epoch++ {
		assert.Less(t, curve[epoch], curve[epoch-1], "epoch %d", epoch)
	}
}

func TestWarmupCosineDegenerate(t *testing.T) {
	s := WarmupCosine{BaseLR: 1, MinLR: 0, WarmupEpochs: 0, TotalEpochs: 0}
	assert.Equal(t, 1.0, s.At(0))
	assert.Empty(t, s.Curve())

	s = WarmupCosine{BaseLR: 1, WarmupEpochs: 5, TotalEpochs: 5}
	assert.Equal(t, 1.0, s.At(4))
	assert.Equal(t, 1.0, s.At(5))
}
