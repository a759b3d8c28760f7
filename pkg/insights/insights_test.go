// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package insights

import (
	"testing"

	"github.com/cipikiko/Hatogoya/pkg/dataset"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constSource returns n images of shape (c, h, w), where image i has all values set to values[i%len(values)].
type constSource struct {
	n, c, h, w int
	values     []float32
	failAt     int
	oddShape   bool
}

func (s *constSource) Len() int { return s.n }

func (s *constSource) Decode(index int) (*dataset.Image, error) {
	if s.failAt >= 0 && index == s.failAt {
		return nil, errors.Errorf("corrupted image %d", index)
	}
	img := &dataset.Image{Channels: s.c, Height: s.h, Width: s.w}
	if s.oddShape && index%2 == 1 {
		img.Width++
	}
	img.Data = make([]float32, img.Channels*img.Height*img.Width)
	for ii := range img.Data {
		img.Data[ii] = s.values[index%len(s.values)]
	}
	return img, nil
}

type fakeContainer struct {
	splits     []string
	storage    dataset.Storage
	classNames []string
	shape      []int
	labels     map[string][]int64
	src        dataset.Source
}

func (f *fakeContainer) Splits() []string                  { return f.splits }
func (f *fakeContainer) Storage() (dataset.Storage, error) { return f.storage, nil }
func (f *fakeContainer) ClassNames() []string              { return f.classNames }
func (f *fakeContainer) ImageShape() ([]int, bool)         { return f.shape, f.shape != nil }

func (f *fakeContainer) Labels(split string) ([]int64, error) {
	labels, found := f.labels[split]
	if !found {
		return nil, errors.Errorf("missing labels for %q", split)
	}
	return labels, nil
}

func (f *fakeContainer) Source(split string, _ dataset.Storage) (dataset.Source, error) {
	if f.src == nil {
		return nil, errors.Errorf("no images for %q", split)
	}
	return f.src, nil
}

func TestClassCountsAndImbalance(t *testing.T) {
	counts, err := ClassCounts([]int64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 4}, counts)
	assert.Equal(t, 2.5, ImbalanceRatio(counts))

	// Classes without examples are ignored for the minimum.
	counts, err = ClassCounts([]int64{2, 2, 2, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 3}, counts)
	assert.Equal(t, 3.0, ImbalanceRatio(counts))

	// Equal non-zero counts are balanced, even with an empty class in between.
	counts, err = ClassCounts([]int64{0, 0, 0, 0, 0, 2, 2, 2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 0, 5}, counts)
	assert.Equal(t, 1.0, ImbalanceRatio(counts))

	counts, err = ClassCounts(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, counts)
	assert.Equal(t, 1.0, ImbalanceRatio(counts))
	assert.Equal(t, 1.0, ImbalanceRatio([]int{0, 0}))

	_, err = ClassCounts([]int64{1, -1})
	require.Error(t, err)
}

func TestInspectContainer(t *testing.T) {
	container := &fakeContainer{
		splits:     []string{"test", "train", "val"},
		classNames: []string{"acer", "betula"},
		shape:      []int{64, 48, 3},
		labels:     map[string][]int64{"train": {0, 0, 0, 1}, "test": {0}},
		src:        &constSource{n: 4, c: 1, h: 5, w: 6, values: []float32{0, 255}, failAt: -1},
	}
	in, err := InspectContainer(container, 0)
	require.NoError(t, err)
	assert.Equal(t, "train", in.Split)
	assert.Equal(t, 4, in.NumSamples)
	assert.Equal(t, 2, in.NumClasses)
	assert.Equal(t, 3.0, in.ImbalanceRatio)
	assert.Equal(t, "betula", in.ClassName(1))
	assert.Equal(t, "#7", in.ClassName(7))

	// Sampled shape overrides the attribute.
	require.True(t, in.Stats.Computed())
	assert.Equal(t, []int{1, 5, 6}, []int{in.Channels, in.Height, in.Width})
	assert.True(t, in.Stats.Rescaled)
	assert.Equal(t, 4, in.Stats.NumSampled)
	assert.InDeltaSlice(t, []float64{0.5}, in.Stats.Mean, 1e-9)
	assert.InDeltaSlice(t, []float64{0.5}, in.Stats.Std, 1e-9)

	weights := in.ClassWeights()
	assert.InDeltaSlice(t, []float64{0.5, 1.5}, weights, 1e-12)
}

func TestInspectShapeFallbacks(t *testing.T) {
	// Stats fail: the image_shape attribute (channels-first) is used.
	container := &fakeContainer{
		splits: []string{"val"},
		shape:  []int{3, 40, 30},
		labels: map[string][]int64{"val": {0, 1, 2}},
		src:    &constSource{n: 3, c: 3, h: 2, w: 2, values: []float32{0.5}, failAt: 0},
	}
	in, err := InspectContainer(container, 0)
	require.NoError(t, err)
	assert.Equal(t, "val", in.Split)
	assert.False(t, in.Stats.Computed())
	require.Error(t, in.Stats.Err)
	assert.Equal(t, []int{3, 40, 30}, []int{in.Channels, in.Height, in.Width})
	assert.Equal(t, 1.0, in.ImbalanceRatio)

	// No attribute, no images: defaults to the requested size.
	container.shape = nil
	container.src = nil
	in, err = InspectContainer(container, 96)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 96, 96}, []int{in.Channels, in.Height, in.Width})

	in, err = InspectContainer(container, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3, DefaultImageSize, DefaultImageSize}, []int{in.Channels, in.Height, in.Width})

	// Images with different shapes can't be stacked.
	container.src = &constSource{n: 3, c: 3, h: 2, w: 2, values: []float32{0.5}, failAt: -1, oddShape: true}
	in, err = InspectContainer(container, 0)
	require.NoError(t, err)
	assert.False(t, in.Stats.Computed())
}

func TestInspectErrors(t *testing.T) {
	_, err := InspectContainer(&fakeContainer{}, 0)
	require.ErrorIs(t, err, ErrMissingSplit)

	_, err = InspectContainer(&fakeContainer{splits: []string{"train"}, labels: map[string][]int64{}}, 0)
	require.Error(t, err)

	_, err = InspectContainer(&fakeContainer{splits: []string{"train"}, labels: map[string][]int64{"train": {-2}}}, 0)
	require.Error(t, err)

	// Empty split: not an error, but no statistics.
	in, err := InspectContainer(&fakeContainer{splits: []string{"train"}, labels: map[string][]int64{"train": {}}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, in.NumSamples)
	assert.Equal(t, 1, in.NumClasses)
	assert.False(t, in.Stats.Computed())
}

func TestSampleStatsNoRescale(t *testing.T) {
	src := &constSource{n: 1000, c: 3, h: 2, w: 2, values: []float32{0.2, 0.4}, failAt: -1}
	stats := SampleStats(src, MaxStatsSamples, StatsSeed)
	require.True(t, stats.Computed())
	assert.Equal(t, MaxStatsSamples, stats.NumSampled)
	assert.False(t, stats.Rescaled)
	for ch := range 3 {
		assert.Greater(t, stats.Mean[ch], 0.2)
		assert.Less(t, stats.Mean[ch], 0.4)
		assert.Greater(t, stats.Std[ch], 0.0)
	}

	// Same seed, same sample.
	again := SampleStats(src, MaxStatsSamples, StatsSeed)
	assert.Equal(t, stats.Mean, again.Mean)

	assert.False(t, SampleStats(&constSource{values: []float32{0}, failAt: -1}, 10, StatsSeed).Computed())
}
