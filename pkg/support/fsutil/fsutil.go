// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil complements github.com/gomlx/gomlx/pkg/support/fsutil with atomic writes of output files.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// MkdirAll creates dir and its parents, if they don't exist yet.
func MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q", dir)
	}
	return nil
}

// WriteFile writes data to path, creating the parent directories as needed. The contents are first written
// to a temporary file in the same directory, and then renamed, so readers never see a partial file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := MkdirAll(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file in %q", dir)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write %q", tmpPath)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return errors.Wrapf(err, "failed to set permissions of %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, path)
	}
	return nil
}
