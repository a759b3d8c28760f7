// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package insights characterizes an image classification dataset: class balance, storage layout, image
// shape and per-channel pixel statistics.
package insights

import (
	"fmt"
	"slices"

	"github.com/cipikiko/Hatogoya/pkg/dataset"
	"github.com/cipikiko/Hatogoya/pkg/sampler"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrMissingSplit is returned when the dataset file has no splits at all.
var ErrMissingSplit = errors.New("dataset has no splits")

const (
	// DefaultImageSize is assumed for height and width when neither the caller, the file attributes nor
	// the sampled images tell otherwise.
	DefaultImageSize = 224

	// DefaultChannels is assumed when the number of channels is unknown.
	DefaultChannels = 3

	// MaxStatsSamples is the maximum number of images decoded to estimate the per-channel statistics.
	MaxStatsSamples = 512

	// StatsSeed makes the sampled images reproducible.
	StatsSeed = 123

	// TrainSplit is the preferred split to inspect.
	TrainSplit = "train"
)

// Container is the read-only view of a dataset file needed by Inspect. It is implemented by dataset.File.
type Container interface {
	Splits() []string
	Storage() (dataset.Storage, error)
	ClassNames() []string
	ImageShape() ([]int, bool)
	Labels(split string) ([]int64, error)
	Source(split string, storage dataset.Storage) (dataset.Source, error)
}

// Insights about a dataset split. It is immutable once computed.
type Insights struct {
	// Split inspected: "train" if present, otherwise the first split.
	Split string

	NumSamples int
	NumClasses int

	// ClassCounts holds the number of examples of each class, indexed by class.
	ClassCounts []int

	// ImbalanceRatio is the count of the most frequent class over the count of the least frequent class
	// with at least one example. It is always >= 1.
	ImbalanceRatio float64

	Storage dataset.Storage

	// ClassNames from the file attributes, if any.
	ClassNames []string

	Channels, Height, Width int

	// Stats holds per-channel statistics, if they could be computed.
	Stats Stats
}

// Inspect the dataset file at path. If imageSize > 0, it is the default height and width assumed for the
// images, otherwise DefaultImageSize.
//
// It fails only if the file can't be read, has no splits, or the labels are invalid: failing to compute the
// image statistics is reported in Insights.Stats.
func Inspect(path string, imageSize int) (*Insights, error) {
	file, err := dataset.OpenFile(path)
	if err != nil {
		return nil, err
	}
	in, err := InspectContainer(file, imageSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "inspecting dataset %q", path)
	}
	return in, nil
}

// InspectContainer implements Inspect for any Container.
func InspectContainer(container Container, imageSize int) (*Insights, error) {
	splits := container.Splits()
	if len(splits) == 0 {
		return nil, ErrMissingSplit
	}
	storage, err := container.Storage()
	if err != nil {
		return nil, err
	}
	in := &Insights{
		Split:      splits[0],
		Storage:    storage,
		ClassNames: container.ClassNames(),
	}
	if slices.Contains(splits, TrainSplit) {
		in.Split = TrainSplit
	}

	labels, err := container.Labels(in.Split)
	if err != nil {
		return nil, err
	}
	in.ClassCounts, err = ClassCounts(labels)
	if err != nil {
		return nil, errors.WithMessagef(err, "split %q", in.Split)
	}
	in.NumClasses = len(in.ClassCounts)
	for _, count := range in.ClassCounts {
		in.NumSamples += count
	}
	in.ImbalanceRatio = ImbalanceRatio(in.ClassCounts)

	// Shape: defaults, then the "image_shape" attribute, then the sampled images.
	size := imageSize
	if size <= 0 {
		size = DefaultImageSize
	}
	in.Channels, in.Height, in.Width = DefaultChannels, size, size
	if shape, found := container.ImageShape(); found {
		in.Channels, in.Height, in.Width, _ = dataset.NormalizeCHW(shape)
	}

	in.Stats = sampleStats(container, in)
	if in.Stats.Computed() {
		in.Channels, in.Height, in.Width = in.Stats.Channels, in.Stats.Height, in.Stats.Width
	} else {
		klog.V(1).Infof("Per-channel statistics of split %q unavailable: %v", in.Split, in.Stats.Err)
	}
	return in, nil
}

func sampleStats(container Container, in *Insights) Stats {
	if in.NumSamples == 0 {
		return Unavailable(errors.Errorf("no samples in split %q", in.Split))
	}
	src, err := container.Source(in.Split, in.Storage)
	if err != nil {
		return Unavailable(err)
	}
	return SampleStats(src, min(MaxStatsSamples, in.NumSamples), StatsSeed)
}

// ClassCounts returns the number of occurrences of each label value from 0 to max(labels). Labels are
// expected to be compacted class indices: negative values are an error.
//
// An empty list of labels returns a single class with a count of 0.
func ClassCounts(labels []int64) ([]int, error) {
	if len(labels) == 0 {
		return []int{0}, nil
	}
	maxLabel := slices.Max(labels)
	if minLabel := slices.Min(labels); minLabel < 0 {
		return nil, errors.Errorf("labels must be non-negative class indices, got %d", minLabel)
	}
	counts := make([]int, maxLabel+1)
	for _, label := range labels {
		counts[label]++
	}
	return counts, nil
}

// ImbalanceRatio returns max(counts) / max(1, min(non-zero counts)). It is 1 for fewer than 2 classes.
func ImbalanceRatio(counts []int) float64 {
	if len(counts) < 2 {
		return 1
	}
	maxCount := slices.Max(counts)
	minNonZero := 0
	for _, count := range counts {
		if count > 0 && (minNonZero == 0 || count < minNonZero) {
			minNonZero = count
		}
	}
	if maxCount == 0 {
		return 1
	}
	return float64(maxCount) / float64(max(1, minNonZero))
}

// ClassWeights returns the inverse frequency weight of each class, normalized to a mean of 1. Classes
// without examples are given the weight of a class with one example.
func (in *Insights) ClassWeights() []float64 {
	return sampler.WeightsFromCounts(in.ClassCounts, true)
}

// ClassName returns the name of the class index, or its number if no name is known.
func (in *Insights) ClassName(class int) string {
	if class >= 0 && class < len(in.ClassNames) {
		return in.ClassNames[class]
	}
	return fmt.Sprintf("#%d", class)
}
