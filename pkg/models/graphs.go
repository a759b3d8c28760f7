// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/pkg/errors"
)

// ParamNormalization selects the normalization used by the convolutional models: "batch" (default), "layer"
// or "none".
const ParamNormalization = "model_normalization"

// normalize the channels-first logits (or flat [batch, features] logits).
func normalize(ctx *context.Context, logits *Node) *Node {
	normalizationType := context.GetParamOr(ctx, ParamNormalization, "batch")
	switch normalizationType {
	case "batch":
		featureAxis := 1
		if logits.Rank() == 2 {
			featureAxis = -1
		}
		return batchnorm.New(ctx, logits, featureAxis).Done()
	case "layer":
		if logits.Rank() == 4 {
			return layers.LayerNormalization(ctx, logits, 1, 2, 3).Done()
		}
		return layers.LayerNormalization(ctx, logits, -1).Done()
	case "none", "":
		return logits
	}
	panic(errors.Errorf("invalid normalization type %q, set it with parameter %q", normalizationType, ParamNormalization))
}

// conv2D is a channels-first convolution with "same" padding.
func conv2D(ctx *context.Context, x *Node, channels, kernelSize, strides int) *Node {
	return layers.Convolution(ctx, x).
		ChannelsAxis(images.ChannelsFirst).
		Channels(channels).
		KernelSize(kernelSize).
		Strides(strides).
		PadSame().
		UseBias(false).
		Done()
}

// globalAveragePool reduces the spatial axes of channels-first logits, returning [batch, channels].
func globalAveragePool(logits *Node) *Node {
	return ReduceMean(logits, 2, 3)
}

// cnnGraph is a straightforward stack of convolutions, in three stages of two convolutions followed by a
// max-pooling.
func cnnGraph(ctx *context.Context, images4D *Node, numClasses int) *Node {
	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	logits := images4D
	for _, channels := range []int{32, 64, 128} {
		for range 2 {
			logits = conv2D(nextCtx("conv"), logits, channels, 3, 1)
			logits = activations.Relu(logits)
			logits = normalize(nextCtx("norm"), logits)
		}
		logits = MaxPool(logits).ChannelsAxis(images.ChannelsFirst).Window(2).PadSame().Done()
	}
	logits = globalAveragePool(logits)
	logits = layers.Dense(nextCtx("dense"), logits, true, 128)
	logits = activations.Relu(logits)
	return layers.Dense(nextCtx("dense"), logits, true, numClasses)
}

// convNorm is a convolution followed by normalization and, optionally, a ReLU.
func convNorm(ctx *context.Context, x *Node, channels, kernelSize, strides int, relu bool) *Node {
	x = conv2D(ctx.In("conv"), x, channels, kernelSize, strides)
	x = normalize(ctx.In("norm"), x)
	if relu {
		x = activations.Relu(x)
	}
	return x
}

const bottleneckExpansion = 4

// resnetGraph builds a residual network: a 7x7 stem, 4 stages of residual blocks doubling the channels
// and halving the resolution, a global average pooling and the classification head.
func resnetGraph(ctx *context.Context, arch Architecture, images4D *Node, numClasses int) *Node {
	x := convNorm(ctx.In("stem"), images4D, 64, 7, 2, true)
	x = MaxPool(x).ChannelsAxis(images.ChannelsFirst).Window(3).Strides(2).PadSame().Done()
	for stage, numBlocks := range arch.Blocks {
		channels := 64 << stage
		for block := range numBlocks {
			strides := 1
			if block == 0 && stage > 0 {
				strides = 2
			}
			blockCtx := ctx.Inf("stage_%d_block_%02d", stage, block)
			if arch.Bottleneck {
				x = bottleneckBlock(blockCtx, x, channels, strides)
			} else {
				x = basicBlock(blockCtx, x, channels, strides)
			}
		}
	}
	x = globalAveragePool(x)
	return layers.Dense(ctx.In("head"), x, true, numClasses)
}

// shortcut returns x, or its projection if the block changes the number of channels or the resolution.
func shortcut(ctx *context.Context, x *Node, channels, strides int) *Node {
	if strides == 1 && x.Shape().Dimensions[1] == channels {
		return x
	}
	return convNorm(ctx.In("shortcut"), x, channels, 1, strides, false)
}

func basicBlock(ctx *context.Context, x *Node, channels, strides int) *Node {
	residual := shortcut(ctx, x, channels, strides)
	x = convNorm(ctx.In("a"), x, channels, 3, strides, true)
	x = convNorm(ctx.In("b"), x, channels, 3, 1, false)
	return activations.Relu(Add(x, residual))
}

func bottleneckBlock(ctx *context.Context, x *Node, channels, strides int) *Node {
	outChannels := channels * bottleneckExpansion
	residual := shortcut(ctx, x, outChannels, strides)
	x = convNorm(ctx.In("a"), x, channels, 1, 1, true)
	x = convNorm(ctx.In("b"), x, channels, 3, strides, true)
	x = convNorm(ctx.In("c"), x, outChannels, 1, 1, false)
	return activations.Relu(Add(x, residual))
}

// vitGraph builds a vision transformer: non-overlapping patches are projected to embeddings, added
// learned position embeddings, and processed by pre-normalized transformer blocks. The mean of the
// final embeddings is fed to the classification head.
func vitGraph(ctx *context.Context, arch Architecture, images4D *Node, numClasses int) *Node {
	g := images4D.Graph()
	dtype := images4D.DType()
	batchSize := images4D.Shape().Dimensions[0]
	height, width := images4D.Shape().Dimensions[2], images4D.Shape().Dimensions[3]
	patchSize := min(arch.PatchSize, height, width)
	embedDim := arch.EmbedDim

	x := layers.Convolution(ctx.In("patch_embed"), images4D).
		ChannelsAxis(images.ChannelsFirst).
		Channels(embedDim).
		KernelSize(patchSize).
		Strides(patchSize).
		NoPadding().
		Done()
	numPatches := x.Shape().Dimensions[2] * x.Shape().Dimensions[3]
	x = Reshape(x, batchSize, embedDim, numPatches)
	x = Transpose(x, 1, 2) // [batch, numPatches, embedDim]

	posEmbed := ctx.In("pos_embed").
		VariableWithShape("embeddings", shapes.Make(dtype, numPatches, embedDim)).
		ValueGraph(g)
	posEmbed = BroadcastToShape(ExpandAxes(posEmbed, 0), x.Shape())
	x = Add(x, posEmbed)

	headDim := embedDim / arch.NumHeads
	for layer := range arch.NumLayers {
		layerCtx := ctx.In(fmt.Sprintf("layer_%02d", layer))
		y := layers.LayerNormalization(layerCtx.In("norm1"), x, -1).Done()
		y = attention.MultiHeadAttention(layerCtx.In("attn"), y, y, y, arch.NumHeads, headDim).Done()
		x = Add(x, y)
		y = layers.LayerNormalization(layerCtx.In("norm2"), x, -1).Done()
		y = layers.Dense(layerCtx.In("mlp1"), y, true, 4*embedDim)
		y = activations.Gelu(y)
		y = layers.Dense(layerCtx.In("mlp2"), y, true, embedDim)
		x = Add(x, y)
	}
	x = layers.LayerNormalization(ctx.In("norm"), x, -1).Done()
	x = ReduceMean(x, 1)
	return layers.Dense(ctx.In("head"), x, true, numClasses)
}
