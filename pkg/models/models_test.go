// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	arch, err := Lookup("ResNet50")
	require.NoError(t, err)
	assert.Equal(t, "resnet50", arch.Name)
	assert.True(t, arch.Bottleneck)
	assert.False(t, arch.IsTransformer())

	arch, err = Lookup("resnet50.a1_in1k")
	require.NoError(t, err)
	assert.Equal(t, "resnet50", arch.Name)

	arch, err = Lookup("vit_base_patch16_224")
	require.NoError(t, err)
	assert.Equal(t, "vit_base", arch.Name)
	assert.True(t, arch.IsTransformer())
	assert.Equal(t, "vit", arch.Family.String())

	_, err = Lookup("resnet500")
	require.Error(t, err)
	_, err = Lookup("convnext_tiny")
	require.Error(t, err)

	names := Names()
	assert.Contains(t, names, "cnn")
	assert.IsIncreasing(t, names)
}

func TestModelFnShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, name := range []string{"cnn", "resnet18", "vit_tiny"} {
		t.Run(name, func(t *testing.T) {
			arch, err := Lookup(name)
			require.NoError(t, err)
			modelFn := arch.ModelFn(10, dtypes.Float32)
			ctx := context.New()
			logits := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				images := Ones(g, shapes.Make(dtypes.Float32, 2, 3, 32, 32))
				return modelFn(ctx, nil, []*Node{images})[0]
			})
			require.NoError(t, logits.Shape().Check(dtypes.Float32, 2, 10))
		})
	}
}
