// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// Package models holds a registry of image classification architectures, built with GoMLX, that are used
// to measure how large a training batch fits in the accelerator memory.
//
// The models take batches of images shaped [batch, channels, height, width] and return the logits shaped
// [batch, numClasses]. They are representative of the memory footprint of the named architectures, not
// faithful replicas of pretrained models.
package models

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Family of an architecture.
type Family int

const (
	// FamilyCNN is a plain stack of convolutions.
	FamilyCNN Family = iota

	// FamilyResNet are residual networks.
	FamilyResNet

	// FamilyViT are vision transformers over image patches.
	FamilyViT
)

func (f Family) String() string {
	switch f {
	case FamilyCNN:
		return "cnn"
	case FamilyResNet:
		return "resnet"
	case FamilyViT:
		return "vit"
	}
	return "unknown"
}

// Architecture configures one of the registered models.
type Architecture struct {
	Name   string
	Family Family

	// Residual networks: number of blocks per stage, and whether blocks are bottlenecks (1x1, 3x3, 1x1).
	Blocks     []int
	Bottleneck bool

	// Vision transformers.
	PatchSize, EmbedDim, NumHeads, NumLayers int
}

// IsTransformer returns whether the architecture is a vision transformer.
func (a Architecture) IsTransformer() bool {
	return a.Family == FamilyViT
}

var registry = map[string]Architecture{
	"cnn":       {Name: "cnn", Family: FamilyCNN},
	"resnet18":  {Name: "resnet18", Family: FamilyResNet, Blocks: []int{2, 2, 2, 2}},
	"resnet34":  {Name: "resnet34", Family: FamilyResNet, Blocks: []int{3, 4, 6, 3}},
	"resnet50":  {Name: "resnet50", Family: FamilyResNet, Blocks: []int{3, 4, 6, 3}, Bottleneck: true},
	"resnet101": {Name: "resnet101", Family: FamilyResNet, Blocks: []int{3, 4, 23, 3}, Bottleneck: true},
	"vit_tiny":  {Name: "vit_tiny", Family: FamilyViT, PatchSize: 16, EmbedDim: 192, NumHeads: 3, NumLayers: 12},
	"vit_small": {Name: "vit_small", Family: FamilyViT, PatchSize: 16, EmbedDim: 384, NumHeads: 6, NumLayers: 12},
	"vit_base":  {Name: "vit_base", Family: FamilyViT, PatchSize: 16, EmbedDim: 768, NumHeads: 12, NumLayers: 12},
}

// Names returns the sorted names of the registered architectures.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Lookup returns the architecture for name, case-insensitive.
//
// Names with a variant suffix, like "resnet50.a1_in1k" or "vit_base_patch16_224", resolve to the longest
// registered name they start with.
func Lookup(name string) (Architecture, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if arch, found := registry[key]; found {
		return arch, nil
	}
	var best string
	for registered := range registry {
		if strings.HasPrefix(key, registered) && len(registered) > len(best) {
			rest := key[len(registered):]
			if rest[0] == '.' || rest[0] == '_' || rest[0] == '-' {
				best = registered
			}
		}
	}
	if best == "" {
		return Architecture{}, errors.Errorf("unknown architecture %q, known architectures are %v", name, Names())
	}
	return registry[best], nil
}

// ModelFn returns a train.ModelFn that builds the architecture with numClasses outputs.
//
// If dtype is not the dtype of the input images, the images are converted to dtype, and so are the
// variables of the model. The logits are always returned as float32.
func (a Architecture) ModelFn(numClasses int, dtype dtypes.DType) train.ModelFn {
	return func(ctx *context.Context, _ any, inputs []*graph.Node) []*graph.Node {
		images := inputs[0]
		if images.Rank() != 4 {
			panic(errors.Errorf("model %q expects images shaped [batch, channels, height, width], got %s",
				a.Name, images.Shape()))
		}
		if images.DType() != dtype {
			images = graph.ConvertDType(images, dtype)
		}
		var logits *graph.Node
		switch a.Family {
		case FamilyCNN:
			logits = cnnGraph(ctx.In("cnn"), images, numClasses)
		case FamilyResNet:
			logits = resnetGraph(ctx.In(a.Name), a, images, numClasses)
		case FamilyViT:
			logits = vitGraph(ctx.In(a.Name), a, images, numClasses)
		}
		if logits.DType() != dtypes.Float32 {
			logits = graph.ConvertDType(logits, dtypes.Float32)
		}
		return []*graph.Node{logits}
	}
}
