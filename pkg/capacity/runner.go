// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"math/rand/v2"
	"runtime"
	"strings"
	"time"

	"github.com/cipikiko/Hatogoya/pkg/models"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NumProbeClasses is the number of classes of the throwaway models used in the trials.
const NumProbeClasses = 10

// CUDABackendConfig is the GoMLX backend configuration used for the "cuda" device.
const CUDABackendConfig = "xla:cuda"

// NewBackend creates the GoMLX backend for the device: "cuda" requires the XLA CUDA plugin, anything
// else uses the default backend (see GOMLX_BACKEND).
//
// Panics while loading the backend plugins are returned as errors.
func NewBackend(device string) (backend backends.Backend, err error) {
	config := ""
	if device == "cuda" {
		config = CUDABackendConfig
	}
	exception := exceptions.Try(func() {
		if config == "" {
			backend, err = backends.New()
		} else {
			backend, err = backends.NewWithConfig(config)
		}
	})
	if exception != nil {
		err = exceptionToError(exception)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend for device %q", device)
	}
	return backend, nil
}

// GoMLXRunner is a TrialRunner that runs one full training step (forward, loss, backward and AdamW update)
// of a freshly built model, on random images.
type GoMLXRunner struct {
	backend    backends.Backend
	arch       models.Architecture
	channels   int
	resolution int
	dtype      dtypes.DType
	monitor    MemoryMonitor
	params     map[string]any
	noise      []float32
}

// NewGoMLXRunner creates a runner for cfg.Architecture, using images of cfg.Resolution x cfg.Resolution.
//
// With cfg.MixedPrecision on a "cuda" device the model runs in BFloat16. The monitor may be nil, in
// which case the headroom is never checked.
func NewGoMLXRunner(backend backends.Backend, cfg Config, monitor MemoryMonitor) (*GoMLXRunner, error) {
	cfg = cfg.withDefaults()
	arch, err := models.Lookup(cfg.Architecture)
	if err != nil {
		return nil, err
	}
	if cfg.Resolution <= 0 {
		return nil, errors.Errorf("invalid resolution %d for capacity probe", cfg.Resolution)
	}
	r := &GoMLXRunner{
		backend:    backend,
		arch:       arch,
		channels:   cfg.Channels,
		resolution: cfg.Resolution,
		dtype:      dtypes.Float32,
		monitor:    monitor,
		params:     cfg.ModelParams,
	}
	if cfg.MixedPrecision && cfg.Device == "cuda" {
		r.dtype = dtypes.BFloat16
	}

	// One random image, tiled to fill the batches.
	rng := rand.New(rand.NewPCG(0, 0))
	r.noise = make([]float32, r.channels*r.resolution*r.resolution)
	for ii := range r.noise {
		r.noise[ii] = float32(rng.NormFloat64())
	}
	return r, nil
}

// Run implements TrialRunner. The memory usage reported is the peak sampled while the step runs.
func (r *GoMLXRunner) Run(batchSize int) (trial Trial) {
	trial.BatchSize = batchSize
	start := time.Now()
	usage, err := PeakUsage(r.monitor, MemorySampleInterval, func() error { return r.trainStep(batchSize) })
	trial.Duration = time.Since(start)
	switch {
	case err == nil:
		trial.Outcome = Fit
		trial.MemoryUsed, trial.MemoryTotal, trial.MemoryKnown = usage.Used, usage.Total, usage.Known
	case IsOutOfMemory(err):
		trial.Outcome = OutOfMemory
		trial.Err = err
		ReleaseMemory()
	default:
		trial.Outcome = Failed
		trial.Err = err
	}
	klog.V(1).Infof("Trial %s batch=%d: %s in %s", r.arch.Name, batchSize, trial.Outcome, trial.Duration)
	return
}

// Preflight runs one trial with batchSize, and returns an error if the training step can't run at all,
// for instance because the backend doesn't implement some operation of the model.
// Running out of memory is not an error: the search will try smaller batches.
func (r *GoMLXRunner) Preflight(batchSize int) error {
	trial := r.Run(batchSize)
	if trial.Outcome == Failed {
		return errors.WithMessagef(trial.Err, "training step of %q with batch size %d failed", r.arch.Name, batchSize)
	}
	return nil
}

// trainStep builds a new model and trainer, and runs one training step with a batch of batchSize.
// Panics raised while building or running the graph are returned as errors.
func (r *GoMLXRunner) trainStep(batchSize int) (err error) {
	ctx := context.New()
	defer ctx.Finalize()
	if len(r.params) > 0 {
		ctx.SetParams(r.params)
	}

	imageSize := len(r.noise)
	pixels := make([]float32, batchSize*imageSize)
	for ii := range batchSize {
		copy(pixels[ii*imageSize:], r.noise)
	}
	labelsData := make([]int32, batchSize)
	for ii := range labelsData {
		labelsData[ii] = int32(ii % NumProbeClasses)
	}
	images := tensors.FromFlatDataAndDimensions(pixels, batchSize, r.channels, r.resolution, r.resolution)
	labels := tensors.FromFlatDataAndDimensions(labelsData, batchSize, 1)
	defer func() {
		_ = images.FinalizeAll()
		_ = labels.FinalizeAll()
	}()

	exception := exceptions.Try(func() {
		trainer := train.NewTrainer(r.backend, ctx, r.arch.ModelFn(NumProbeClasses, r.dtype),
			losses.SparseCategoricalCrossEntropyLogits,
			optimizers.Adam().WeightDecay(1e-4).Done(),
			nil, nil)
		var metrics []*tensors.Tensor
		metrics, err = trainer.TrainStep(nil, []*tensors.Tensor{images}, []*tensors.Tensor{labels})
		for _, metric := range metrics {
			_ = metric.FinalizeAll()
		}
	})
	if exception != nil {
		return exceptionToError(exception)
	}
	return err
}

func exceptionToError(exception any) error {
	if err, ok := exception.(error); ok {
		return err
	}
	return errors.Errorf("%v", exception)
}

var outOfMemoryMarkers = []string{"out of memory", "resource_exhausted", "resource exhausted", "oom when allocating"}

// IsOutOfMemory returns whether err was caused by the device running out of memory.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range outOfMemoryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ReleaseMemory triggers the garbage collection, which finalizes the on-device buffers of unreachable
// tensors.
func ReleaseMemory() {
	for range 2 {
		runtime.GC()
	}
}
