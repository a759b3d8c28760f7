// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MemoryMonitor reports the memory usage of the device being probed.
type MemoryMonitor interface {
	// Usage returns the bytes used and the total bytes available. If ok is false, the usage is unknown,
	// and the headroom is not checked.
	Usage() (used, total uint64, ok bool)
}

// MemoryUsage is one reading of a MemoryMonitor. Used and Total are only valid if Known.
type MemoryUsage struct {
	Used, Total uint64
	Known       bool
}

// MemorySampleInterval is how often the memory usage is sampled while a training step runs.
var MemorySampleInterval = 10 * time.Millisecond

// PeakUsage runs step while a goroutine samples monitor every interval, and returns the reading with the
// largest usage. The monitor is also sampled when step starts and after it returns.
//
// If monitor is nil, step is just run and the usage is unknown.
func PeakUsage(monitor MemoryMonitor, interval time.Duration, step func() error) (peak MemoryUsage, err error) {
	if monitor == nil {
		return peak, step()
	}
	done := make(chan struct{})
	result := make(chan MemoryUsage)
	go func() {
		var peak MemoryUsage
		sample := func() {
			used, total, ok := monitor.Usage()
			if ok && (!peak.Known || used > peak.Used) {
				peak = MemoryUsage{Used: used, Total: total, Known: true}
			}
		}
		sample()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				sample()
				result <- peak
				return
			case <-ticker.C:
				sample()
			}
		}
	}()
	err = step()
	close(done)
	peak = <-result
	return peak, err
}

// HostMonitor measures the host memory consumed since it was created, relative to the memory that was
// free at that point. It's used when probing on the CPU.
type HostMonitor struct {
	baselineFree uint64
}

// NewHostMonitor takes the current free memory as the baseline.
func NewHostMonitor() *HostMonitor {
	return &HostMonitor{baselineFree: memory.FreeMemory()}
}

// Usage implements MemoryMonitor.
func (m *HostMonitor) Usage() (used, total uint64, ok bool) {
	if m.baselineFree == 0 {
		return 0, 0, false
	}
	free := memory.FreeMemory()
	if free == 0 {
		return 0, 0, false
	}
	if free < m.baselineFree {
		used = m.baselineFree - free
	}
	return used, m.baselineFree, true
}

// NvidiaSMIMonitor queries the memory of one NVIDIA GPU with the nvidia-smi tool.
//
// Limitation: the XLA GPU allocator may reserve a large share of the memory upfront, and nvidia-smi
// reports that reservation, not what the trial allocated. With preallocation on, every trial reads about
// the same usage, so the headroom check either never triggers or triggers on every trial.
type NvidiaSMIMonitor struct {
	// Device is the index of the GPU.
	Device int

	binPath string
}

// NewNvidiaSMIMonitor returns a monitor for the GPU with the given index, or an error if the nvidia-smi
// tool is not installed.
func NewNvidiaSMIMonitor(device int) (*NvidiaSMIMonitor, error) {
	binPath, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, errors.Wrap(err, "nvidia-smi not found")
	}
	return &NvidiaSMIMonitor{Device: device, binPath: binPath}, nil
}

// Usage implements MemoryMonitor.
func (m *NvidiaSMIMonitor) Usage() (used, total uint64, ok bool) {
	cmd := exec.Command(m.binPath, "--query-gpu=memory.used,memory.total", "--format=csv,noheader,nounits",
		"-i", strconv.Itoa(m.Device))
	output, err := cmd.Output()
	if err != nil {
		klog.V(1).Infof("nvidia-smi failed: %v", err)
		return 0, 0, false
	}
	used, total, err = parseNvidiaSMI(string(output))
	if err != nil {
		klog.V(1).Infof("Failed to parse nvidia-smi output %q: %v", output, err)
		return 0, 0, false
	}
	return used, total, true
}

const mebibyte = 1 << 20

// parseNvidiaSMI parses the first line of "memory.used, memory.total" values, given in MiB, and returns
// them in bytes.
func parseNvidiaSMI(output string) (used, total uint64, err error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("expected 2 comma separated values, got %q", line)
	}
	used, err = strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing memory.used")
	}
	total, err = strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing memory.total")
	}
	if total == 0 {
		return 0, 0, errors.New("memory.total is 0")
	}
	return used * mebibyte, total * mebibyte, nil
}
