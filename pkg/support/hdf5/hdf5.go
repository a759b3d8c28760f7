// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package hdf5 provides a trivial API to access HDF5 file contents.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more specifically the
// `h5dump` binary.
//
// It is basic but provides the necessary functionality to list the contents, read attributes
// and extract the binary contents of datasets (or slices of them). Each call runs a new
// `h5dump` process, so no file handle is kept open between calls.
package hdf5

import (
	"bytes"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Contents is a map of all the datasets present in the HDF5 file. The key is the path
// built from the concatenation of the "group" (how HDF5 calls directories or folders) with
// the dataset name, separated by a "/" character.
type Contents map[string]*Dataset

// Kind of the elements stored in a Dataset.
type Kind int

const (
	// KindUnknown is used for datatypes not supported by this package.
	KindUnknown Kind = iota

	// KindNumeric datasets hold fixed size numbers, see Dataset.DType.
	KindNumeric

	// KindString datasets hold fixed or variable length strings.
	KindString

	// KindVarBytes datasets hold variable length sequences of uint8 (H5T_VLEN { H5T_STD_U8LE }),
	// typically encoded images.
	KindVarBytes
)

// Dataset has (some of) the metadata about a dataset (but not the data itself). The
// dataset "DATATYPE" and "DATASPACE" fields are converted to a Kind, a DType (for numeric
// datasets) and its dimensions.
type Dataset struct {
	FilePath, GroupPath, RawHeader string
	Kind                           Kind
	DType                          dtypes.DType
	Dimensions                     []int
}

// H5DumpBinary is the name of the binary used to read the HDF5 files.
const H5DumpBinary = "h5dump"

// ParseFile in filePath as an HDF5 file and returns map of contents.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more specifically the
// `h5dump` binary.
func ParseFile(filePath string) (contents Contents, err error) {
	// Check whether the file exists.
	_, err = os.Stat(filePath)
	if err != nil {
		err = errors.Wrapf(err, "cannot access HDF5 file in path %q", filePath)
		return
	}

	// List the contents of the filePath.
	contentsBytes, err := execH5Dump("--contents", filePath)
	if err != nil {
		return
	}
	contents = make(Contents)
	for _, key := range parseContentsListing(string(contentsBytes)) {
		contents[key] = &Dataset{
			FilePath:  filePath,
			GroupPath: key,
		}
	}
	if len(contents) == 0 {
		return
	}

	// Read header for datasets.
	headerArgs := make([]string, 0, len(contents)+2)
	headerArgs = append(headerArgs, "--header")
	for key := range contents {
		headerArgs = append(headerArgs, "--dataset="+key)
	}
	headerArgs = append(headerArgs, filePath)
	headerBytes, err := execH5Dump(headerArgs...)
	if err != nil {
		return
	}
	err = parseHeaders(string(headerBytes), contents)
	if err != nil {
		err = errors.WithMessagef(err, "while parsing HDF5 file %q", filePath)
	}
	return
}

var (
	regexpH5Datasets               = regexp.MustCompile(`(?m)^\s*dataset\s+(/\S*)\s*$`)
	regexpH5DatasetHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpH5DatasetHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpH5DatasetHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
	regexpH5VarBytes               = regexp.MustCompile(`^H5T_VLEN\s*\{\s*H5T_STD_U8(LE|BE)\s*\}$`)
)

// parseContentsListing returns the dataset paths listed by `h5dump --contents`.
func parseContentsListing(listing string) []string {
	matches := regexpH5Datasets.FindAllStringSubmatch(listing, -1)
	keys := make([]string, 0, len(matches))
	for _, match := range matches {
		keys = append(keys, match[1])
	}
	return keys
}

// parseHeaders parses the output of `h5dump --header` and fills in the Dataset entries in contents.
func parseHeaders(headers string, contents Contents) error {
	rawDatasetHeaders := strings.Split(headers, "DATASET")
	if len(rawDatasetHeaders)-1 != len(contents) {
		return errors.Errorf("failed to parse dataset headers: expected %d DATASET, got %d",
			len(contents), len(rawDatasetHeaders)-1)
	}
datasetHeaders:
	for _, part := range rawDatasetHeaders[1:] {
		matches := regexpH5DatasetHeaderName.FindStringSubmatch(part)
		if len(matches) != 2 {
			return errors.Errorf("failed to parse dataset header: got %q", part)
		}
		key := matches[1]
		ds, found := contents[key]
		if !found {
			return errors.Errorf("unknown dataset header %q", key)
		}
		ds.RawHeader = "DATASET" + part

		// Parse data type.
		matches = regexpH5DatasetHeaderDataType.FindStringSubmatch(part)
		if len(matches) != 2 {
			// DType not parseable.
			continue
		}
		ds.Kind, ds.DType = KindForH5T(matches[1])
		if ds.Kind == KindUnknown {
			klog.V(1).Infof("HDF5 dataset %q has unsupported DATATYPE %q", key, matches[1])
			continue datasetHeaders
		}

		// Parse DATASPACE
		matches = regexpH5DatasetHeaderDataSpace.FindStringSubmatch(part)
		if len(matches) != 4 {
			klog.Warningf("HDF5 dataset %q: DATASPACE not parsed: %s", key, part)
			continue datasetHeaders
		}
		switch matches[1] {
		case "SCALAR":
			ds.Dimensions = []int{}
		case "SIMPLE":
			dims, err := parseDims(matches[3])
			if err != nil {
				klog.Warningf("HDF5 dataset %q: %v", key, err)
				continue datasetHeaders
			}
			ds.Dimensions = dims
		default:
			// Shape isn't supported:
			klog.Warningf("HDF5 dataset %q: DATASPACE type unknown: %s", key, matches[1])
			continue datasetHeaders
		}
	}
	return nil
}

func parseDims(dimsStr string) ([]int, error) {
	dimsParts := strings.Split(dimsStr, ",")
	dims := make([]int, 0, len(dimsParts))
	for _, dimStr := range dimsParts {
		dimStr = strings.TrimSpace(dimStr)
		dim, err := strconv.Atoi(dimStr)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse dimension %q in DATASPACE", dimStr)
		}
		dims = append(dims, dim)
	}
	return dims, nil
}

// KindForH5T returns the Kind and, for numeric kinds, the DType corresponding to known HDF5 types.
// If not know/supported, returns KindUnknown.
func KindForH5T(h5type string) (Kind, dtypes.DType) {
	h5type = strings.TrimSpace(h5type)
	switch h5type {
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return KindNumeric, dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return KindNumeric, dtypes.Float64
	case "H5T_STD_I8LE", "H5T_STD_I8BE":
		return KindNumeric, dtypes.Int8
	case "H5T_STD_U8LE", "H5T_STD_U8BE":
		return KindNumeric, dtypes.Uint8
	case "H5T_STD_I16LE", "H5T_STD_I16BE":
		return KindNumeric, dtypes.Int16
	case "H5T_STD_U16LE", "H5T_STD_U16BE":
		return KindNumeric, dtypes.Uint16
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return KindNumeric, dtypes.Int32
	case "H5T_STD_U32LE", "H5T_STD_U32BE":
		return KindNumeric, dtypes.Uint32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return KindNumeric, dtypes.Int64
	case "H5T_STD_U64LE", "H5T_STD_U64BE":
		return KindNumeric, dtypes.Uint64
	}
	if strings.HasPrefix(h5type, "H5T_STRING") {
		return KindString, dtypes.InvalidDType
	}
	if regexpH5VarBytes.MatchString(h5type) {
		return KindVarBytes, dtypes.InvalidDType
	}
	return KindUnknown, dtypes.InvalidDType
}

// Groups returns the sorted names of the top-level groups that hold at least one dataset.
// For a dataset split into "/train/images" and "/train/labels", it returns "train".
func (contents Contents) Groups() []string {
	var groups []string
	for key := range contents {
		parts := strings.SplitN(strings.TrimPrefix(key, "/"), "/", 2)
		if len(parts) < 2 {
			// Dataset at the root.
			continue
		}
		if !slices.Contains(groups, parts[0]) {
			groups = append(groups, parts[0])
		}
	}
	slices.Sort(groups)
	return groups
}

// Get returns the dataset in group with the given name, or nil if it doesn't exist.
func (contents Contents) Get(group, name string) *Dataset {
	return contents["/"+group+"/"+name]
}

// NumElements returns the number of entries of the leading axis of the dataset: the number of examples for
// a split. It returns 1 for scalar datasets.
func (ds *Dataset) NumElements() int {
	if len(ds.Dimensions) == 0 {
		return 1
	}
	return ds.Dimensions[0]
}

// execH5Dump executes `h5dump`, and handles errors.
func execH5Dump(args ...string) (output []byte, err error) {
	binPath, err := findBinPath()
	if err != nil {
		return
	}
	cmd := exec.Command(binPath, args...)
	if cmd.Err != nil {
		err = errors.Wrapf(cmd.Err, "cannot execute %q required to access HDF5 file", cmd)
		return
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	err = cmd.Run()
	if err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		err = errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
		return
	}
	output = stdoutBuf.Bytes()
	return
}

func findBinPath() (binPath string, err error) {
	// Find h5dump.
	binPath, err = exec.LookPath(H5DumpBinary)
	if err != nil {
		err = errors.Wrapf(err, "cannot find `h5dump` binary in PATH, needed to parse HDF5 "+
			"format files \"(extension \".h5\") -- please install package hdf5-tools, which usually "+
			"holds `h5dump`")
		return
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	return
}

// Available returns whether the `h5dump` binary can be found.
func Available() bool {
	_, err := exec.LookPath(H5DumpBinary)
	return err == nil
}
