// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package recipe defines the training recipe, the configuration consumed by the training loop, and its
// YAML serialization.
package recipe

import (
	"bytes"
	"io"
	"os"
	"strconv"

	"github.com/cipikiko/Hatogoya/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Recipe is the complete training configuration. The YAML field names and nesting are the ones expected by
// the training loop.
type Recipe struct {
	Seed  int   `yaml:"seed"`
	Data  Data  `yaml:"data"`
	Train Train `yaml:"train"`
	Paths Paths `yaml:"paths"`
}

// Data configures the data loading.
type Data struct {
	HDF5Path       string `yaml:"hdf5_path"`
	ImageSize      int    `yaml:"img_size"`
	NumWorkers     int    `yaml:"num_workers"`
	PrefetchFactor int    `yaml:"prefetch_factor"`
	CUDAPrefetch   bool   `yaml:"cuda_prefetch"`
}

// Train configures the training loop.
type Train struct {
	Device             string  `yaml:"device"`
	ModelName          string  `yaml:"model_name"`
	ImageSize          int     `yaml:"img_size"`
	BatchSize          int     `yaml:"batch_size"`
	ValBatchSize       int     `yaml:"val_batch_size"`
	Epochs             int     `yaml:"epochs"`
	LearningRate       float64 `yaml:"lr"`
	WeightDecay        float64 `yaml:"weight_decay"`
	LabelSmoothing     float64 `yaml:"label_smoothing"`
	WarmupEpochs       int     `yaml:"warmup_epochs"`
	GradCheckpoint     bool    `yaml:"grad_checkpoint"`
	UseWeightedSampler bool    `yaml:"use_weighted_sampler"`
	AccumulateSteps    int     `yaml:"accumulate_steps"`
	MixupAlpha         float64 `yaml:"mixup_alpha"`
	MaxGradNorm        float64 `yaml:"max_grad_norm"`

	// Optional caps, nil for no limit.
	ValMaxBatches    *int `yaml:"val_max_batches"`
	MaxStepsPerEpoch *int `yaml:"max_steps_per_epoch"`
}

// Paths of the checkpoints written by the training loop.
type Paths struct {
	BestCheckpoint string `yaml:"best_ckpt"`
	LastCheckpoint string `yaml:"last_ckpt"`
}

// SignificantDigits of the floating point values in the serialized recipe.
const SignificantDigits = 8

// RoundSignificant rounds x to the given number of significant digits.
func RoundSignificant(x float64, digits int) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(x, 'g', digits, 64), 64)
	if err != nil {
		return x
	}
	return rounded
}

// rounded returns a copy of the recipe with its floating point values rounded to SignificantDigits.
func (r Recipe) rounded() Recipe {
	for _, value := range []*float64{&r.Train.LearningRate, &r.Train.WeightDecay, &r.Train.LabelSmoothing,
		&r.Train.MixupAlpha, &r.Train.MaxGradNorm} {
		*value = RoundSignificant(*value, SignificantDigits)
	}
	return r
}

// Marshal serializes the recipe to YAML, with keys in the order seed, data, train, paths. Floating point values
// are rounded to SignificantDigits, and unset caps are written as null.
func Marshal(r Recipe) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r.rounded()); err != nil {
		return nil, errors.Wrap(err, "failed to encode recipe to YAML")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to encode recipe to YAML")
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a YAML recipe. Unknown fields are an error.
func Unmarshal(data []byte) (Recipe, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a YAML recipe from reader. Unknown fields are an error.
func Decode(reader io.Reader) (Recipe, error) {
	var r Recipe
	dec := yaml.NewDecoder(reader)
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return r, errors.New("empty recipe")
		}
		return r, errors.Wrap(err, "failed to parse recipe")
	}
	return r, nil
}

// Load and validate the recipe in the YAML file at path.
func Load(path string) (Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return Recipe{}, errors.Wrapf(err, "failed to open recipe")
	}
	defer func() { _ = f.Close() }()
	r, err := Decode(f)
	if err != nil {
		return r, errors.WithMessagef(err, "loading %q", path)
	}
	if err = r.Validate(); err != nil {
		return r, errors.WithMessagef(err, "loading %q", path)
	}
	return r, nil
}

// Save the recipe as YAML to path, creating the parent directories if needed.
func Save(path string, r Recipe) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}
	return fsutil.WriteFile(path, data, 0o644)
}

// Validate checks the recipe values are within their valid ranges.
func (r Recipe) Validate() error {
	d, t := r.Data, r.Train
	switch {
	case d.HDF5Path == "":
		return errors.New("data.hdf5_path is empty")
	case d.ImageSize <= 0:
		return errors.Errorf("data.img_size must be positive, got %d", d.ImageSize)
	case d.NumWorkers < 0:
		return errors.Errorf("data.num_workers must be >= 0, got %d", d.NumWorkers)
	case d.PrefetchFactor < 1:
		return errors.Errorf("data.prefetch_factor must be >= 1, got %d", d.PrefetchFactor)
	case t.Device != "cuda" && t.Device != "cpu":
		return errors.Errorf("train.device must be \"cuda\" or \"cpu\", got %q", t.Device)
	case t.ModelName == "":
		return errors.New("train.model_name is empty")
	case t.ImageSize <= 0:
		return errors.Errorf("train.img_size must be positive, got %d", t.ImageSize)
	case t.BatchSize <= 0:
		return errors.Errorf("train.batch_size must be positive, got %d", t.BatchSize)
	case t.ValBatchSize <= 0:
		return errors.Errorf("train.val_batch_size must be positive, got %d", t.ValBatchSize)
	case t.Epochs <= 0:
		return errors.Errorf("train.epochs must be positive, got %d", t.Epochs)
	case t.LearningRate <= 0:
		return errors.Errorf("train.lr must be positive, got %g", t.LearningRate)
	case t.WeightDecay < 0:
		return errors.Errorf("train.weight_decay must be >= 0, got %g", t.WeightDecay)
	case t.LabelSmoothing < 0 || t.LabelSmoothing >= 1:
		return errors.Errorf("train.label_smoothing must be in [0, 1), got %g", t.LabelSmoothing)
	case t.WarmupEpochs < 0:
		return errors.Errorf("train.warmup_epochs must be >= 0, got %d", t.WarmupEpochs)
	case t.AccumulateSteps < 1:
		return errors.Errorf("train.accumulate_steps must be >= 1, got %d", t.AccumulateSteps)
	case t.MixupAlpha < 0:
		return errors.Errorf("train.mixup_alpha must be >= 0, got %g", t.MixupAlpha)
	case t.MaxGradNorm <= 0:
		return errors.Errorf("train.max_grad_norm must be positive, got %g", t.MaxGradNorm)
	case t.ValMaxBatches != nil && *t.ValMaxBatches <= 0:
		return errors.Errorf("train.val_max_batches must be positive or null, got %d", *t.ValMaxBatches)
	case t.MaxStepsPerEpoch != nil && *t.MaxStepsPerEpoch <= 0:
		return errors.Errorf("train.max_steps_per_epoch must be positive or null, got %d", *t.MaxStepsPerEpoch)
	}
	return nil
}
