// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package sampler computes inverse class frequency weights, used to balance the classes seen during
// training, either by weighting the sampling of examples or by weighting the loss.
package sampler

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// uniqueCounts returns, for each label, the index of its value among the sorted unique values, and
// the count of each unique value.
func uniqueCounts(labels []int64) (inverse []int, counts []int) {
	unique := slices.Clone(labels)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	counts = make([]int, len(unique))
	inverse = make([]int, len(labels))
	for ii, label := range labels {
		idx, _ := slices.BinarySearch(unique, label)
		inverse[ii] = idx
		counts[idx]++
	}
	return
}

// ClassBalancedWeights returns one weight per example, 1/count(class of the example), so that sampling
// examples with these weights sees each class present in labels with equal probability.
func ClassBalancedWeights(labels []int64) []float64 {
	inverse, counts := uniqueCounts(labels)
	classWeights := WeightsFromCounts(counts, false)
	weights := make([]float64, len(labels))
	for ii, idx := range inverse {
		weights[ii] = classWeights[idx]
	}
	return weights
}

// ClassWeights returns one weight per unique label value (in sorted order), the inverse of its frequency,
// optionally normalized to a mean of 1.
//
// If expectedClasses > 0 and the number of unique labels differs, it returns an error: the weights would
// be misaligned with the model's classes. It returns nil and no error if labels is empty.
func ClassWeights(labels []int64, expectedClasses int, normalize bool) ([]float64, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	_, counts := uniqueCounts(labels)
	if expectedClasses > 0 && len(counts) != expectedClasses {
		return nil, errors.Errorf("labels have %d unique classes, expected %d", len(counts), expectedClasses)
	}
	return WeightsFromCounts(counts, normalize), nil
}

// WeightsFromCounts returns 1/count for each class, counting classes with no examples as having one.
// If normalize is true, the weights are scaled to a mean of 1.
func WeightsFromCounts(counts []int, normalize bool) []float64 {
	weights := make([]float64, len(counts))
	for ii, count := range counts {
		weights[ii] = 1.0 / float64(max(1, count))
	}
	if normalize && len(weights) > 0 {
		floats.Scale(1/stat.Mean(weights, nil), weights)
	}
	return weights
}
