// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset reads image classification datasets stored in HDF5 files.
//
// The file holds one group per split ("train", "val", "test"), each with an images dataset and a
// "labels" dataset of the same length. The root attribute "storage" tells how images are stored:
//
//   - "pixels": "<split>/images" holds raw pixel arrays, shaped [N, H, W, C], [N, C, H, W] or [N, H, W].
//   - "encoded_bytes": "<split>/images_bytes" holds variable length uint8 sequences, each one an encoded
//     image file (JPEG, PNG, WebP, ...).
//
// The storage mode is resolved once, when a Source is created, and both modes expose the same
// decoding API.
package dataset

import (
	"strings"

	"github.com/pkg/errors"
)

// Storage mode of the images in a dataset file.
type Storage int

const (
	// Pixels storage holds raw pixel arrays.
	Pixels Storage = iota

	// EncodedBytes storage holds encoded image files.
	EncodedBytes
)

// AttrStorage is the root attribute with the storage mode. If missing, Pixels is assumed.
const AttrStorage = "storage"

// ParseStorage converts the value of the "storage" attribute to a Storage. An empty value defaults to Pixels.
func ParseStorage(value string) (Storage, error) {
	switch strings.TrimSpace(value) {
	case "pixels", "":
		return Pixels, nil
	case "encoded_bytes":
		return EncodedBytes, nil
	}
	return Pixels, errors.Errorf("unknown dataset storage %q, valid values are \"pixels\" and \"encoded_bytes\"", value)
}

// String returns the attribute value of the storage mode.
func (s Storage) String() string {
	switch s {
	case Pixels:
		return "pixels"
	case EncodedBytes:
		return "encoded_bytes"
	}
	return "unknown"
}

// ImagesDatasetName returns the name of the dataset, within each split group, that holds the images.
func (s Storage) ImagesDatasetName() string {
	if s == EncodedBytes {
		return "images_bytes"
	}
	return "images"
}

// LabelsDatasetName is the name of the dataset, within each split group, that holds the labels.
const LabelsDatasetName = "labels"
