// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package insights

import (
	"math"
	"math/rand/v2"

	"github.com/cipikiko/Hatogoya/pkg/dataset"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// rescaleThreshold: if the largest sampled value is above it, pixels are assumed to be in the 0-255 range.
const rescaleThreshold = 1.5

// Stats holds the per-channel mean and standard deviation of a sample of images, in the 0-1 range.
//
// Use Computed to tell whether the statistics are available: if not, Err tells why.
type Stats struct {
	Mean, Std []float64

	// NumSampled is the number of images used.
	NumSampled int

	// Shape of the sampled images, all of them equal.
	Channels, Height, Width int

	// Rescaled is true if the sampled pixels were in the 0-255 range and were divided by 255.
	Rescaled bool

	// Err is the reason the statistics are unavailable.
	Err error
}

// Unavailable returns Stats that could not be computed for the given reason.
func Unavailable(reason error) Stats {
	if reason == nil {
		reason = errors.New("unknown reason")
	}
	return Stats{Err: reason}
}

// Computed returns whether the statistics were computed.
func (s Stats) Computed() bool {
	return s.Err == nil && len(s.Mean) > 0
}

// SampleStats decodes numSamples distinct images from src, picked at random with the given seed, and returns
// their per-channel mean and (population) standard deviation.
//
// All sampled images must have the same shape. If the maximum pixel value is above 1.5, values are assumed
// to be in the 0-255 range and the statistics are divided by 255.
//
// Failures are reported as unavailable Stats.
func SampleStats(src dataset.Source, numSamples int, seed uint64) Stats {
	numSamples = min(numSamples, src.Len())
	if numSamples <= 0 {
		return Unavailable(errors.New("no images to sample"))
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	indices := rng.Perm(src.Len())[:numSamples]

	var (
		stats      Stats
		sums, sqrs []float64
		maxValue   = math.Inf(-1)
		plane      []float64
	)
	for ii, index := range indices {
		img, err := src.Decode(index)
		if err != nil {
			return Unavailable(err)
		}
		if ii == 0 {
			stats.Channels, stats.Height, stats.Width = img.Channels, img.Height, img.Width
			sums = make([]float64, img.Channels)
			sqrs = make([]float64, img.Channels)
			plane = make([]float64, img.Height*img.Width)
		} else if img.Channels != stats.Channels || img.Height != stats.Height || img.Width != stats.Width {
			return Unavailable(errors.Errorf("sampled images have different shapes: (%d, %d, %d) and (%d, %d, %d)",
				stats.Channels, stats.Height, stats.Width, img.Channels, img.Height, img.Width))
		}
		for ch := range img.Channels {
			for pos, v := range img.Data[ch*len(plane) : (ch+1)*len(plane)] {
				plane[pos] = float64(v)
			}
			sums[ch] += floats.Sum(plane)
			sqrs[ch] += floats.Dot(plane, plane)
			maxValue = max(maxValue, floats.Max(plane))
		}
	}

	count := float64(numSamples * stats.Height * stats.Width)
	if count == 0 {
		return Unavailable(errors.New("sampled images are empty"))
	}
	stats.NumSampled = numSamples
	stats.Mean = make([]float64, stats.Channels)
	stats.Std = make([]float64, stats.Channels)
	for ch := range stats.Channels {
		mean := sums[ch] / count
		variance := max(0, sqrs[ch]/count-mean*mean)
		stats.Mean[ch] = mean
		stats.Std[ch] = math.Sqrt(variance)
	}
	if maxValue > rescaleThreshold {
		stats.Rescaled = true
		floats.Scale(1.0/255.0, stats.Mean)
		floats.Scale(1.0/255.0, stats.Std)
	}
	klog.V(2).Infof("Sampled %d images of shape (%d, %d, %d): mean=%v std=%v",
		numSamples, stats.Channels, stats.Height, stats.Width, stats.Mean, stats.Std)
	return stats
}
