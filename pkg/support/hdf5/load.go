// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package hdf5

import (
	"encoding/binary"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Load the whole dataset contents as raw bytes in the machine native format.
func (ds *Dataset) Load() (rawContent []byte, err error) {
	return ds.loadBinary("--dataset=" + ds.GroupPath)
}

// LoadSlab loads the hyperslab defined by start and count (one value per axis) as raw bytes in the
// machine native format.
//
// E.g.: for images stored as `[N, H, W, C]`, LoadSlab([]int{i, 0, 0, 0}, []int{1, H, W, C}) loads
// the i-th image.
func (ds *Dataset) LoadSlab(start, count []int) (rawContent []byte, err error) {
	if len(start) != len(ds.Dimensions) || len(count) != len(ds.Dimensions) {
		err = errors.Errorf("dataset %q has rank %d, got start=%v and count=%v",
			ds.GroupPath, len(ds.Dimensions), start, count)
		return
	}
	return ds.loadBinary("--dataset="+ds.GroupPath, "--start="+joinInts(start), "--count="+joinInts(count))
}

func (ds *Dataset) loadBinary(selectArgs ...string) (rawContent []byte, err error) {
	if ds.Kind != KindNumeric {
		err = errors.Errorf("dataset %q is not numeric, it cannot be loaded in binary form", ds.GroupPath)
		return
	}
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
		return
	}
	defer func() {
		if newErr := os.Remove(tmpFile.Name()); newErr != nil {
			klog.Warningf("Failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), newErr)
		}
	}()
	args := append(selectArgs, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath)
	_, err = execH5Dump(args...)
	if err != nil {
		return
	}
	rawContent, err = os.ReadFile(tmpFile.Name())
	if err != nil {
		err = errors.Wrapf(err, "failed to read from temporary file %q to extract HDF5 dataset", tmpFile.Name())
		return
	}
	return
}

// LoadInts loads an integer dataset (of any integer DType) converted to int64.
func (ds *Dataset) LoadInts() ([]int64, error) {
	if ds.Kind != KindNumeric || !ds.DType.IsInt() {
		return nil, errors.Errorf("dataset %q is not an integer dataset", ds.GroupPath)
	}
	raw, err := ds.Load()
	if err != nil {
		return nil, err
	}
	return DecodeInts(raw, ds.DType)
}

// LoadFloat32Slab loads a hyperslab (see LoadSlab) of a numeric dataset converted to float32.
// Values are not rescaled.
func (ds *Dataset) LoadFloat32Slab(start, count []int) ([]float32, error) {
	raw, err := ds.LoadSlab(start, count)
	if err != nil {
		return nil, err
	}
	return DecodeFloat32(raw, ds.DType)
}

// DecodeInts converts raw native bytes of the given integer dtype to int64.
func DecodeInts(raw []byte, dtype dtypes.DType) ([]int64, error) {
	size := int(dtype.Size())
	if size == 0 || len(raw)%size != 0 {
		return nil, errors.Errorf("raw content of %d bytes is not a multiple of %s size", len(raw), dtype)
	}
	n := len(raw) / size
	values := make([]int64, n)
	ne := binary.NativeEndian
	for ii := range n {
		b := raw[ii*size : (ii+1)*size]
		switch dtype {
		case dtypes.Int8:
			values[ii] = int64(int8(b[0]))
		case dtypes.Uint8:
			values[ii] = int64(b[0])
		case dtypes.Int16:
			values[ii] = int64(int16(ne.Uint16(b)))
		case dtypes.Uint16:
			values[ii] = int64(ne.Uint16(b))
		case dtypes.Int32:
			values[ii] = int64(int32(ne.Uint32(b)))
		case dtypes.Uint32:
			values[ii] = int64(ne.Uint32(b))
		case dtypes.Int64:
			values[ii] = int64(ne.Uint64(b))
		case dtypes.Uint64:
			v := ne.Uint64(b)
			if v > math.MaxInt64 {
				return nil, errors.Errorf("value %d at index %d overflows int64", v, ii)
			}
			values[ii] = int64(v)
		default:
			return nil, errors.Errorf("dtype %s is not an integer type", dtype)
		}
	}
	return values, nil
}

// DecodeFloat32 converts raw native bytes of the given numeric dtype to float32.
func DecodeFloat32(raw []byte, dtype dtypes.DType) ([]float32, error) {
	switch dtype {
	case dtypes.Float32:
		if len(raw)%4 != 0 {
			return nil, errors.Errorf("raw content of %d bytes is not a multiple of 4", len(raw))
		}
		values := make([]float32, len(raw)/4)
		for ii := range values {
			values[ii] = math.Float32frombits(binary.NativeEndian.Uint32(raw[ii*4:]))
		}
		return values, nil
	case dtypes.Float64:
		if len(raw)%8 != 0 {
			return nil, errors.Errorf("raw content of %d bytes is not a multiple of 8", len(raw))
		}
		values := make([]float32, len(raw)/8)
		for ii := range values {
			values[ii] = float32(math.Float64frombits(binary.NativeEndian.Uint64(raw[ii*8:])))
		}
		return values, nil
	}
	ints, err := DecodeInts(raw, dtype)
	if err != nil {
		return nil, err
	}
	values := make([]float32, len(ints))
	for ii, v := range ints {
		values[ii] = float32(v)
	}
	return values, nil
}

// LoadVarBytes loads the element at index of a variable length uint8 dataset (KindVarBytes), typically
// one encoded image.
func (ds *Dataset) LoadVarBytes(index int) ([]byte, error) {
	if ds.Kind != KindVarBytes {
		return nil, errors.Errorf("dataset %q doesn't hold variable length bytes", ds.GroupPath)
	}
	if index < 0 || index >= ds.NumElements() {
		return nil, errors.Errorf("index %d out of range for dataset %q with %d elements",
			index, ds.GroupPath, ds.NumElements())
	}
	output, err := execH5Dump("--dataset="+ds.GroupPath, "--start="+strconv.Itoa(index), "--count=1",
		"--width=0", "--noindex", ds.FilePath)
	if err != nil {
		return nil, err
	}
	block, err := extractDataBlock(string(output))
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q, element %d", ds.GroupPath, index)
	}
	return parseByteSequence(block)
}

// LoadStrings loads a string dataset (KindString), e.g. class names used as labels.
func (ds *Dataset) LoadStrings() ([]string, error) {
	if ds.Kind != KindString {
		return nil, errors.Errorf("dataset %q doesn't hold strings", ds.GroupPath)
	}
	output, err := execH5Dump("--dataset="+ds.GroupPath, "--width=0", ds.FilePath)
	if err != nil {
		return nil, err
	}
	block, err := extractDataBlock(string(output))
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.GroupPath)
	}
	values, err := parseDataValues(block)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.GroupPath)
	}
	strs := make([]string, 0, len(values))
	for _, v := range values {
		if !v.quoted {
			return nil, errors.Errorf("dataset %q: expected quoted string, got %q", ds.GroupPath, v.text)
		}
		strs = append(strs, v.text)
	}
	return strs, nil
}

// extractDataBlock returns the lines inside the first `DATA { ... }` block of an h5dump text output.
func extractDataBlock(output string) (string, error) {
	lines := strings.Split(output, "\n")
	var (
		inData bool
		depth  int
		parts  []string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inData {
			if trimmed == "DATA {" {
				inData = true
				depth = 1
			}
			continue
		}
		depth += braceBalance(trimmed)
		if depth <= 0 {
			return strings.Join(parts, "\n"), nil
		}
		parts = append(parts, trimmed)
	}
	if !inData {
		return "", errors.New("no DATA block found in h5dump output")
	}
	return "", errors.New("unterminated DATA block in h5dump output")
}

// parseByteSequence parses the textual rendering of a single vlen uint8 element, e.g. "(255, 216, 255)".
func parseByteSequence(block string) ([]byte, error) {
	block = stripIndexPrefixes(block)
	values := make([]byte, 0, len(block)/4)
	for _, field := range strings.FieldsFunc(block, func(r rune) bool {
		return r == '(' || r == ')' || r == ',' || r == ' ' || r == '\n' || r == '\t'
	}) {
		v, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid byte value %q", field)
		}
		values = append(values, byte(v))
	}
	return values, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
