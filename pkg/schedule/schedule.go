// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package schedule implements the per-epoch learning rate schedule used by the generated training recipes:
// a linear warmup followed by a cosine decay.
package schedule

import "math"

// DefaultMinLR is the learning rate reached at the end of the cosine decay.
const DefaultMinLR = 1e-6

// WarmupCosine is a per-epoch learning rate schedule: the learning rate grows linearly during the first
// WarmupEpochs epochs, up to BaseLR, and then decays following half a cosine period down to MinLR at
// TotalEpochs.
type WarmupCosine struct {
	BaseLR, MinLR float64
	WarmupEpochs  int
	TotalEpochs   int
}

// New creates a WarmupCosine schedule with MinLR set to DefaultMinLR.
func New(baseLR float64, warmupEpochs, totalEpochs int) WarmupCosine {
	return WarmupCosine{BaseLR: baseLR, MinLR: DefaultMinLR, WarmupEpochs: warmupEpochs, TotalEpochs: totalEpochs}
}

// At returns the learning rate for the given epoch, counting from 0. Negative epochs are taken as 0.
func (s WarmupCosine) At(epoch int) float64 {
	epoch = max(0, epoch)
	if epoch < s.WarmupEpochs {
		return s.BaseLR * float64(epoch+1) / float64(max(1, s.WarmupEpochs))
	}
	t := float64(epoch-s.WarmupEpochs) / float64(max(1, s.TotalEpochs-s.WarmupEpochs))
	return s.MinLR + 0.5*(s.BaseLR-s.MinLR)*(1+math.Cos(math.Pi*t))
}

// Curve returns the learning rate of each of the TotalEpochs epochs.
func (s WarmupCosine) Curve() []float64 {
	curve := make([]float64, max(0, s.TotalEpochs))
	for epoch := range curve {
		curve[epoch] = s.At(epoch)
	}
	return curve
}
