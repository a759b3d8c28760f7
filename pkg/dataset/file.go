// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"encoding/json"
	"slices"

	"github.com/cipikiko/Hatogoya/pkg/support/hdf5"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// AttrClasses is the optional root attribute with the list of class names.
	AttrClasses = "classes"

	// AttrClassNames is an alternative root attribute holding the class names as a JSON list.
	AttrClassNames = "class_names"

	// AttrImageShape is the optional root attribute with the image shape, either (C, H, W) or (H, W, C).
	AttrImageShape = "image_shape"
)

// File is an HDF5 dataset file. Only the metadata is read when opening it: images and labels are read
// on demand, and each read reopens the file.
type File struct {
	Path       string
	Contents   hdf5.Contents
	Attributes hdf5.Attributes
}

// OpenFile reads the list of contents and the root attributes of the HDF5 file at path.
func OpenFile(path string) (*File, error) {
	contents, err := hdf5.ParseFile(path)
	if err != nil {
		return nil, err
	}
	attrs, err := hdf5.ReadAttributes(path, "/")
	if err != nil {
		return nil, err
	}
	return &File{Path: path, Contents: contents, Attributes: attrs}, nil
}

// Splits returns the sorted names of the splits (top-level groups) in the file.
func (f *File) Splits() []string {
	return f.Contents.Groups()
}

// Storage returns the storage mode given by the "storage" root attribute, defaulting to Pixels.
func (f *File) Storage() (Storage, error) {
	attr, found := f.Attributes[AttrStorage]
	if !found {
		return Pixels, nil
	}
	value, ok := attr.String()
	if !ok {
		return Pixels, errors.Errorf("attribute %q of %q is not a string", AttrStorage, f.Path)
	}
	return ParseStorage(value)
}

// ClassNames returns the class names from the "classes" root attribute, or from the JSON encoded
// "class_names" attribute. It returns nil if neither is present.
func (f *File) ClassNames() []string {
	if attr, found := f.Attributes[AttrClasses]; found && attr.IsString() {
		return slices.Clone(attr.Strings)
	}
	if attr, found := f.Attributes[AttrClassNames]; found {
		if value, ok := attr.String(); ok {
			var names []string
			if err := json.Unmarshal([]byte(value), &names); err == nil {
				return names
			}
			klog.Warningf("Attribute %q of %q is not a valid JSON list of strings, ignoring it", AttrClassNames, f.Path)
		}
	}
	return nil
}

// ImageShape returns the "image_shape" root attribute, if present and with 3 axes.
func (f *File) ImageShape() ([]int, bool) {
	attr, found := f.Attributes[AttrImageShape]
	if !found {
		return nil, false
	}
	shape, ok := attr.Ints()
	if !ok || len(shape) != 3 {
		return nil, false
	}
	return shape, true
}

// Labels of the split as class indices.
//
// Integer labels are returned as is. String labels (class names) are mapped to the index of the name in
// ClassNames, or, if the file has no class names, to the index in the sorted list of unique names.
func (f *File) Labels(split string) ([]int64, error) {
	ds := f.Contents.Get(split, LabelsDatasetName)
	if ds == nil {
		return nil, errors.Errorf("missing '%s/%s' in %s", split, LabelsDatasetName, f.Path)
	}
	switch ds.Kind {
	case hdf5.KindNumeric:
		labels, err := ds.LoadInts()
		return labels, errors.WithMessagef(err, "reading labels of split %q", split)
	case hdf5.KindString:
		names, err := ds.LoadStrings()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading labels of split %q", split)
		}
		return IndexLabels(names, f.ClassNames()), nil
	}
	return nil, errors.Errorf("labels dataset %q in %s is neither integer nor string", ds.GroupPath, f.Path)
}

// IndexLabels converts class names to class indices, following the order in classNames. If classNames is
// empty, the sorted unique names are used. Names not in classNames are given new indices after the known ones.
func IndexLabels(names, classNames []string) []int64 {
	if len(classNames) == 0 {
		classNames = slices.Clone(names)
		slices.Sort(classNames)
		classNames = slices.Compact(classNames)
	}
	index := make(map[string]int64, len(classNames))
	for ii, name := range classNames {
		index[name] = int64(ii)
	}
	labels := make([]int64, len(names))
	for ii, name := range names {
		idx, found := index[name]
		if !found {
			idx = int64(len(index))
			index[name] = idx
			klog.Warningf("Label %q not in the list of class names, assigning index %d", name, idx)
		}
		labels[ii] = idx
	}
	return labels
}

// Source returns the images Source for the split, with the decoding path selected by storage.
func (f *File) Source(split string, storage Storage) (Source, error) {
	ds := f.Contents.Get(split, storage.ImagesDatasetName())
	if ds == nil {
		return nil, errors.Errorf("missing '%s/%s' in %s (storage %q)", split, storage.ImagesDatasetName(), f.Path, storage)
	}
	switch storage {
	case Pixels:
		if ds.Kind != hdf5.KindNumeric {
			return nil, errors.Errorf("dataset %q in %s is not a numeric pixel array", ds.GroupPath, f.Path)
		}
		return NewPixelSource(ds, ds.Dimensions)
	case EncodedBytes:
		if ds.Kind != hdf5.KindVarBytes {
			return nil, errors.Errorf("dataset %q in %s is not a variable length bytes array", ds.GroupPath, f.Path)
		}
		return NewEncodedSource(ds), nil
	}
	return nil, errors.Errorf("unknown storage %d", storage)
}
