// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package advisor

import (
	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/gomlx/gomlx/backends"
	"k8s.io/klog/v2"
)

// GoMLXEnvironment probes the capacity by training GoMLX models.
//
// The backends must be registered by the binary, usually by importing "github.com/gomlx/gomlx/backends/default".
type GoMLXEnvironment struct {
	// NewBackend creates the backend for a device, defaults to capacity.NewBackend.
	NewBackend func(device string) (backends.Backend, error)

	backend       backends.Backend
	backendDevice string
}

// NewGoMLXEnvironment returns a GoMLXEnvironment using capacity.NewBackend.
func NewGoMLXEnvironment() *GoMLXEnvironment {
	return &GoMLXEnvironment{NewBackend: capacity.NewBackend}
}

// Device implements Environment: "cuda" is only used if a CUDA backend can be created.
func (env *GoMLXEnvironment) Device(want string) string {
	if want != "cuda" {
		return "cpu"
	}
	if env.backend != nil && env.backendDevice == "cuda" {
		return "cuda"
	}
	backend, err := env.NewBackend("cuda")
	if err != nil {
		klog.V(1).Infof("CUDA backend not available: %v", err)
		return "cpu"
	}
	env.setBackend(backend, "cuda")
	return "cuda"
}

func (env *GoMLXEnvironment) setBackend(backend backends.Backend, device string) {
	if env.backend != nil {
		env.backend.Finalize()
	}
	env.backend, env.backendDevice = backend, device
}

// NewRunner implements Environment. The backend is finalized by the release function.
//
// It runs a preflight trial with the smallest batch size, and returns an error if the training step
// can't run on the backend at all.
func (env *GoMLXEnvironment) NewRunner(cfg capacity.Config) (capacity.TrialRunner, func(), error) {
	if env.backend == nil || env.backendDevice != cfg.Device {
		backend, err := env.NewBackend(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		env.setBackend(backend, cfg.Device)
	}
	runner, err := capacity.NewGoMLXRunner(env.backend, cfg, newMonitor(cfg.Device))
	if err == nil {
		err = runner.Preflight(max(capacity.DefaultMinBatch, cfg.MinBatch))
	}
	if err != nil {
		capacity.ReleaseMemory()
		env.setBackend(nil, "")
		return nil, nil, err
	}
	release := func() {
		capacity.ReleaseMemory()
		env.setBackend(nil, "")
	}
	return runner, release, nil
}

// newMonitor returns the memory monitor for the device, or nil if the usage can't be measured.
func newMonitor(device string) capacity.MemoryMonitor {
	if device != "cuda" {
		return capacity.NewHostMonitor()
	}
	monitor, err := capacity.NewNvidiaSMIMonitor(0)
	if err != nil {
		klog.Warningf("GPU memory usage unknown, the headroom won't be checked: %v", err)
		return nil
	}
	return monitor
}
