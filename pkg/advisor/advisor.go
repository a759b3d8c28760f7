// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package advisor suggests a training recipe for a dataset and an architecture: it inspects the dataset,
// probes the largest batch size that fits in the device, and derives the hyperparameters from both.
//
// The pipeline is sequential and blocking. Don't run two advisors against the same accelerator at the same
// time: the capacity probe drives the memory usage up to the headroom, and concurrent probes would corrupt
// each other's measurements.
package advisor

import (
	"context"

	"github.com/cipikiko/Hatogoya/pkg/capacity"
	"github.com/cipikiko/Hatogoya/pkg/insights"
	"github.com/cipikiko/Hatogoya/pkg/policy"
	"github.com/cipikiko/Hatogoya/pkg/recipe"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	DefaultArchitecture = "resnet50"
	DefaultDevice       = "cuda"
)

// Options of Suggest.
type Options struct {
	DatasetPath string

	// Architecture name, defaults to DefaultArchitecture.
	Architecture string

	// Device requested, "cuda" or "cpu". Defaults to DefaultDevice. If "cuda" is not available, "cpu" is used.
	Device string

	// ImageSize is the training resolution. If 0, the larger of the dataset images height and width.
	ImageSize int

	// MixedPrecision is used if requested and the device is "cuda".
	MixedPrecision bool

	// Capacity probe configuration: Architecture, Resolution, Device and MixedPrecision are filled in by Suggest.
	Capacity capacity.Config

	// Policy options: Architecture, Device, DatasetPath and ImageSize are filled in by Suggest.
	Policy policy.Options

	// Environment to probe on. Defaults to a GoMLXEnvironment.
	Environment Environment

	// Inspect the dataset. Defaults to insights.Inspect.
	Inspect func(path string, imageSize int) (*insights.Insights, error)
}

// Suggestion is the outcome of Suggest.
type Suggestion struct {
	Insights       *insights.Insights
	Device         string
	MixedPrecision bool
	Capacity       capacity.Result
	Recipe         recipe.Recipe
	Derivation     policy.Derivation
}

// Environment where the capacity is probed.
type Environment interface {
	// Device resolves the requested device to one available: "cuda" or "cpu".
	Device(want string) string

	// NewRunner creates the TrialRunner for the probe, and a function to release its resources once
	// the probe is over. An error means probing is not possible, and the heuristic batch size is used.
	NewRunner(cfg capacity.Config) (runner capacity.TrialRunner, release func(), err error)
}

// Suggest a training recipe for the dataset in opts.DatasetPath.
//
// It fails if the dataset can't be inspected or has no samples. Failing to probe the capacity is not an
// error: the heuristic batch size is used instead, see Suggestion.Capacity.
//
// The context is checked between stages, the capacity probe itself can't be interrupted.
func Suggest(ctx context.Context, opts Options) (*Suggestion, error) {
	if opts.DatasetPath == "" {
		return nil, errors.New("dataset path is required")
	}
	if opts.Architecture == "" {
		opts.Architecture = DefaultArchitecture
	}
	if opts.Device == "" {
		opts.Device = DefaultDevice
	}
	if opts.Environment == nil {
		opts.Environment = NewGoMLXEnvironment()
	}
	if opts.Inspect == nil {
		opts.Inspect = insights.Inspect
	}

	// Inspect the dataset.
	in, err := opts.Inspect(opts.DatasetPath, opts.ImageSize)
	if err != nil {
		return nil, err
	}
	if in.NumSamples <= 0 {
		return nil, errors.Errorf("split %q of %q has no samples", in.Split, opts.DatasetPath)
	}
	imageSize := opts.ImageSize
	if imageSize <= 0 {
		imageSize = max(in.Height, in.Width)
	}
	klog.V(1).Infof("Dataset %q: %d samples, %d classes, imbalance %.2f, %s storage, image size %d",
		opts.DatasetPath, in.NumSamples, in.NumClasses, in.ImbalanceRatio, in.Storage, imageSize)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	// Probe the batch size.
	s := &Suggestion{Insights: in}
	s.Device = opts.Environment.Device(opts.Device)
	if s.Device != opts.Device {
		klog.Warningf("Device %q not available, using %q", opts.Device, s.Device)
	}
	s.MixedPrecision = opts.MixedPrecision && s.Device == "cuda"
	probeCfg := opts.Capacity
	probeCfg.Architecture = opts.Architecture
	probeCfg.Resolution = imageSize
	probeCfg.Channels = in.Channels
	probeCfg.Device = s.Device
	probeCfg.MixedPrecision = s.MixedPrecision
	s.Capacity = probe(opts.Environment, probeCfg)
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	// Derive the recipe.
	policyOpts := opts.Policy
	policyOpts.Architecture = opts.Architecture
	policyOpts.Device = s.Device
	policyOpts.DatasetPath = opts.DatasetPath
	policyOpts.ImageSize = imageSize
	s.Recipe, s.Derivation = policy.Derive(in, s.Capacity.BatchSize, policyOpts)
	if err = s.Recipe.Validate(); err != nil {
		return nil, errors.WithMessage(err, "derived recipe is invalid")
	}
	return s, nil
}

// probe the capacity with env, or fall back to the heuristic if probing is not possible.
func probe(env Environment, cfg capacity.Config) capacity.Result {
	runner, release, err := env.NewRunner(cfg)
	if err != nil {
		klog.Warningf("Capacity probe not possible, using heuristic batch size: %v", err)
		return capacity.Heuristic(cfg.Resolution, err)
	}
	if release != nil {
		defer release()
	}
	result := capacity.Probe(runner, cfg)
	klog.V(1).Infof("Probed batch size %d for %q at %dx%d on %s in %d trials",
		result.BatchSize, cfg.Architecture, cfg.Resolution, cfg.Resolution, cfg.Device, len(result.Trials))
	return result
}
