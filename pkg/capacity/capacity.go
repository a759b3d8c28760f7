// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package capacity finds the largest training batch size that fits in the accelerator memory, by running
// real training steps in a binary search over the batch size.
//
// Each trial is an irreversible, state-mutating operation: it allocates accelerator memory and changes
// the allocator watermarks. Running the same trial twice is not guaranteed to give the same outcome, and
// the accelerator is not "clean" after a probe. Never probe the same device concurrently.
package capacity

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Outcome of one trial step.
type Outcome int

const (
	// Fit means the training step completed within the memory headroom.
	Fit Outcome = iota

	// OverHeadroom means the training step completed, but the memory used was above the headroom fraction.
	OverHeadroom

	// OutOfMemory means the training step failed for lack of memory.
	OutOfMemory

	// Failed means the training step failed for any other reason.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Fit:
		return "fit"
	case OverHeadroom:
		return "over-headroom"
	case OutOfMemory:
		return "out-of-memory"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Bounds of the binary search over batch sizes.
// Best is the largest batch size that fit so far, or 0 if none did.
type Bounds struct {
	Lo, Hi, Best int
}

// NewBounds starts a search over [minBatch, maxBatch].
func NewBounds(minBatch, maxBatch int) Bounds {
	return Bounds{Lo: minBatch, Hi: maxBatch}
}

// Done returns whether the search converged.
func (b Bounds) Done() bool {
	return b.Lo > b.Hi
}

// Mid is the next batch size to try.
func (b Bounds) Mid() int {
	return (b.Lo + b.Hi) / 2
}

// Next returns the bounds after trying batch with the given outcome.
//
// Only Fit records batch as the best and raises the lower bound: every other outcome lowers the upper
// bound, and never touches Best. So the search never returns a batch size that breached the headroom,
// even if it completed.
func (b Bounds) Next(batch int, outcome Outcome) Bounds {
	if outcome == Fit {
		b.Best = max(b.Best, batch)
		b.Lo = batch + 1
	} else {
		b.Hi = batch - 1
	}
	return b
}

// Trial is the result of running one training step with a batch size.
type Trial struct {
	BatchSize int
	Outcome   Outcome

	// MemoryUsed and MemoryTotal are only valid if MemoryKnown.
	MemoryUsed, MemoryTotal uint64
	MemoryKnown             bool

	Duration time.Duration

	// Err is set for OutOfMemory and Failed outcomes.
	Err error
}

// MemoryFraction returns the fraction of the memory used, or NaN if not known.
func (t Trial) MemoryFraction() float64 {
	if !t.MemoryKnown || t.MemoryTotal == 0 {
		return math.NaN()
	}
	return float64(t.MemoryUsed) / float64(t.MemoryTotal)
}

// TrialRunner runs one training step with the given batch size.
//
// The Outcome it returns is Fit if the step succeeded: checking the headroom is up to Probe, using the
// memory usage reported in the Trial. Calls are not idempotent.
type TrialRunner interface {
	Run(batchSize int) Trial
}

const (
	DefaultHeadroomFraction = 0.85
	DefaultMinBatch         = 1
	DefaultMaxBatch         = 1024
)

// Config of a capacity probe.
type Config struct {
	// Architecture, Resolution, Device and MixedPrecision define the trial steps, see NewGoMLXRunner.
	Architecture   string
	Resolution     int
	Channels       int
	Device         string
	MixedPrecision bool

	// HeadroomFraction is the maximum fraction of the device memory a trial may use. Defaults to 0.85.
	HeadroomFraction float64

	// MinBatch and MaxBatch are the search range. Default to 1 and 1024.
	MinBatch, MaxBatch int

	// ModelParams are hyperparameters set in the context of the models built for the trials,
	// for instance models.ParamNormalization.
	ModelParams map[string]any

	// OnTrial, if set, is called after each trial with the bounds before the trial.
	OnTrial func(trial Trial, bounds Bounds)
}

// NumTrials returns the maximum number of trials of a search over [minBatch, maxBatch].
func NumTrials(minBatch, maxBatch int) int {
	if maxBatch < minBatch {
		return 0
	}
	return int(math.Floor(math.Log2(float64(maxBatch-minBatch+1)))) + 1
}

func (cfg Config) withDefaults() Config {
	if cfg.HeadroomFraction <= 0 {
		cfg.HeadroomFraction = DefaultHeadroomFraction
	}
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = DefaultMinBatch
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 3
	}
	return cfg
}

// Method used to find the batch size.
type Method string

const (
	MethodProbed    Method = "probed"
	MethodHeuristic Method = "heuristic"
)

// Result of a capacity probe.
type Result struct {
	// BatchSize is always >= 1.
	BatchSize int
	Method    Method
	Trials    []Trial

	// Reason the heuristic was used.
	Reason error
}

// Probe runs a binary search over batch sizes in [cfg.MinBatch, cfg.MaxBatch] using runner, and returns
// the largest batch size whose trial fit under the memory headroom, or 1 if none did.
//
// A completed trial whose memory usage is above cfg.HeadroomFraction counts as OverHeadroom.
// If every trial Failed, nothing was measured and the Heuristic result is returned, with the trials
// and the last error as the reason.
// It blocks until the search converges, and it can't be cancelled midway.
func Probe(runner TrialRunner, cfg Config) Result {
	cfg = cfg.withDefaults()
	bounds := NewBounds(cfg.MinBatch, cfg.MaxBatch)
	result := Result{Method: MethodProbed}
	for !bounds.Done() {
		batch := bounds.Mid()
		trial := runner.Run(batch)
		trial.BatchSize = batch
		if trial.Outcome == Fit && trial.MemoryKnown && trial.MemoryFraction() > cfg.HeadroomFraction {
			trial.Outcome = OverHeadroom
		}
		result.Trials = append(result.Trials, trial)
		if cfg.OnTrial != nil {
			cfg.OnTrial(trial, bounds)
		}
		bounds = bounds.Next(batch, trial.Outcome)
	}
	if allFailed(result.Trials) {
		reason := errors.Errorf("all %d trial steps failed", len(result.Trials))
		if lastErr := result.Trials[len(result.Trials)-1].Err; lastErr != nil {
			reason = errors.WithMessagef(lastErr, "all %d trial steps failed", len(result.Trials))
		}
		heuristic := Heuristic(cfg.Resolution, reason)
		heuristic.Trials = result.Trials
		return heuristic
	}
	result.BatchSize = max(1, bounds.Best)
	return result
}

func allFailed(trials []Trial) bool {
	for _, trial := range trials {
		if trial.Outcome != Failed {
			return false
		}
	}
	return len(trials) > 0
}

const (
	heuristicBaseBatch      = 64
	heuristicBaseResolution = 224
	heuristicMinBatch       = 8
)

// HeuristicBatchSize estimates the batch size without running anything: 64 at 224x224, scaled down
// inversely to the number of pixels, and never less than 8.
func HeuristicBatchSize(resolution int) int {
	scale := math.Pow(float64(resolution)/heuristicBaseResolution, 2)
	return max(heuristicMinBatch, int(heuristicBaseBatch/max(1, scale)))
}

// Heuristic returns a Result using HeuristicBatchSize, for when probing is not possible.
func Heuristic(resolution int, reason error) Result {
	return Result{BatchSize: HeuristicBatchSize(resolution), Method: MethodHeuristic, Reason: reason}
}
