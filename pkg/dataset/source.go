// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Image is a decoded image in planar channels-first layout: Data[c*Height*Width + y*Width + x].
//
// Values are kept in the range they were stored in: usually 0-255 for uint8 pixel arrays and
// encoded images.
type Image struct {
	Channels, Height, Width int
	Data                    []float32
}

// Source of images of one split, with a decoding path selected by the storage mode.
type Source interface {
	// Len returns the number of examples in the split.
	Len() int

	// Decode the image at index.
	Decode(index int) (*Image, error)
}

// SlabLoader is implemented by numeric HDF5 datasets (see hdf5.Dataset).
type SlabLoader interface {
	NumElements() int
	LoadFloat32Slab(start, count []int) ([]float32, error)
}

// VarBytesLoader is implemented by variable length bytes HDF5 datasets (see hdf5.Dataset).
type VarBytesLoader interface {
	NumElements() int
	LoadVarBytes(index int) ([]byte, error)
}

// pixelSource decodes images stored as raw pixel arrays.
type pixelSource struct {
	loader        SlabLoader
	dims          []int // Per example dimensions, without the batch axis.
	channelsFirst bool
	c, h, w       int
	fromGrayscale bool
}

// NewPixelSource creates a Source for a pixel array with the given dimensions (including the leading
// examples axis). Supported layouts are [N, H, W, C], [N, C, H, W] and [N, H, W].
func NewPixelSource(loader SlabLoader, dimensions []int) (Source, error) {
	src := &pixelSource{loader: loader, dims: slices.Clone(dimensions[min(1, len(dimensions)):])}
	switch len(dimensions) {
	case 3:
		src.c, src.h, src.w = 1, dimensions[1], dimensions[2]
		src.fromGrayscale = true
	case 4:
		var channelsFirst bool
		src.c, src.h, src.w, channelsFirst = NormalizeCHW(dimensions[1:])
		src.channelsFirst = channelsFirst
	default:
		return nil, errors.Errorf("pixel arrays must have rank 3 or 4, got dimensions %v", dimensions)
	}
	return src, nil
}

// NormalizeCHW interprets a 3-dimensional image shape as either (C, H, W) -- if the first axis is 1, 3 or 4 --
// or (H, W, C) otherwise.
func NormalizeCHW(shape []int) (c, h, w int, channelsFirst bool) {
	if isChannelsDim(shape[0]) {
		return shape[0], shape[1], shape[2], true
	}
	return shape[2], shape[0], shape[1], false
}

func isChannelsDim(dim int) bool {
	return dim == 1 || dim == 3 || dim == 4
}

// Len implements Source.
func (src *pixelSource) Len() int { return src.loader.NumElements() }

// Decode implements Source.
func (src *pixelSource) Decode(index int) (*Image, error) {
	if index < 0 || index >= src.Len() {
		return nil, errors.Errorf("index %d out of range, split has %d examples", index, src.Len())
	}
	start := make([]int, len(src.dims)+1)
	start[0] = index
	count := append([]int{1}, src.dims...)
	values, err := src.loader.LoadFloat32Slab(start, count)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load image %d", index)
	}
	img := &Image{Channels: src.c, Height: src.h, Width: src.w}
	if len(values) != src.c*src.h*src.w {
		return nil, errors.Errorf("image %d has %d values, expected %d", index, len(values), src.c*src.h*src.w)
	}
	if src.channelsFirst || src.fromGrayscale {
		img.Data = values
		return img, nil
	}
	// Transpose HWC to CHW.
	img.Data = make([]float32, len(values))
	planeSize := src.h * src.w
	for pos := range planeSize {
		for ch := range src.c {
			img.Data[ch*planeSize+pos] = values[pos*src.c+ch]
		}
	}
	return img, nil
}

// encodedSource decodes images stored as encoded image files.
type encodedSource struct {
	loader VarBytesLoader
}

// NewEncodedSource creates a Source for encoded images.
func NewEncodedSource(loader VarBytesLoader) Source {
	return &encodedSource{loader: loader}
}

// Len implements Source.
func (src *encodedSource) Len() int { return src.loader.NumElements() }

// Decode implements Source.
func (src *encodedSource) Decode(index int) (*Image, error) {
	if index < 0 || index >= src.Len() {
		return nil, errors.Errorf("index %d out of range, split has %d examples", index, src.Len())
	}
	encoded, err := src.loader.LoadVarBytes(index)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load encoded image %d", index)
	}
	return DecodeBytes(encoded)
}

// DecodeBytes decodes an encoded image file (JPEG, PNG, GIF, BMP or WebP) to an RGB Image, with values from 0 to 255.
// The EXIF orientation of JPEG files is applied.
func DecodeBytes(encoded []byte) (*Image, error) {
	decoded, err := imaging.Decode(bytes.NewReader(encoded), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image of %d bytes", len(encoded))
	}
	return FromGoImage(decoded), nil
}

// FromGoImage converts an image.Image to an RGB Image, values from 0 to 255. Alpha is dropped.
func FromGoImage(img image.Image) *Image {
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	height, width := bounds.Dy(), bounds.Dx()
	planeSize := height * width
	out := &Image{Channels: 3, Height: height, Width: width, Data: make([]float32, 3*planeSize)}
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*width]
		for x := range width {
			pos := y*width + x
			out.Data[pos] = float32(row[4*x])
			out.Data[planeSize+pos] = float32(row[4*x+1])
			out.Data[2*planeSize+pos] = float32(row[4*x+2])
		}
	}
	return out
}
