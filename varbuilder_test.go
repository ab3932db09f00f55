// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qvarbuilder

import (
	"testing"

	"github.com/nlpodyssey/qvarbuilder/dtype"
	"github.com/nlpodyssey/qvarbuilder/quant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarBuilder_Name(t *testing.T) {
	root := newFixtureStore(t).Root()

	testCases := []struct {
		name string
		vb   VarBuilder
		leaf string
		want string
	}{
		{"root", root, "weight", "weight"},
		{"root dotted leaf", root, "a.b.c", "a.b.c"},
		{"one segment", root.Push("block"), "weight", "block.weight"},
		{"nested", root.Push("block").Push("0"), "weight", "block.0.weight"},
		{"prefix", root.PushPrefix("block", "1", "attn"), "q.weight", "block.1.attn.q.weight"},
		{"empty prefix", root.PushPrefix(), "weight", "weight"},
		{"empty segment", root.Push(""), "weight", ".weight"},
		{"empty leaf", root.Push("block"), "", "block."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.vb.Name(tc.leaf))
		})
	}
}

func TestVarBuilder_NameIsAssociative(t *testing.T) {
	root := newFixtureStore(t).Root()
	a := root.Push("a")

	want := "a.b.c"
	assert.Equal(t, want, a.Push("b").Name("c"))
	assert.Equal(t, want, a.Name("b.c"))
	assert.Equal(t, want, root.Name("a.b.c"))
	assert.Equal(t, want, root.PushPrefix("a", "b").Name("c"))
}

func TestVarBuilder_Push(t *testing.T) {
	root := newFixtureStore(t).Root()

	parent := root.PushPrefix("block", "0")
	x := parent.Push("x")
	y := parent.Push("y")

	assert.Equal(t, "block.0.x.w", x.Name("w"))
	assert.Equal(t, "block.0.y.w", y.Name("w"))
	assert.Equal(t, []string{"block", "0"}, parent.Path())
	assert.Nil(t, root.Path())
	assert.Equal(t, "w", root.Name("w"))

	path := x.Path()
	path[0] = "changed"
	assert.Equal(t, []string{"block", "0", "x"}, x.Path())

	assert.Same(t, root.Store(), y.Store())
}

func TestVarBuilder_Get(t *testing.T) {
	root := newFixtureStore(t).Root()

	t.Run("every descriptor with its own shape", func(t *testing.T) {
		for name, d := range root.Store().Tensors() {
			tensor, err := root.Get(d.Shape, name)
			require.NoError(t, err, name)
			assert.Equal(t, []int(d.Shape), tensor.Shape(), name)
			assert.Equal(t, d.DType, tensor.DType(), name)
		}
	})

	t.Run("Q4_0 in nested scope", func(t *testing.T) {
		vb := root.Push("block").Push("0")
		tensor, err := vb.Get([]int{4, 32}, "weight")
		require.NoError(t, err)
		assert.Equal(t, []int{4, 32}, tensor.Shape())
		assert.Equal(t, dtype.Q4_0, tensor.DType())
		assert.Equal(t, quant.CPU, tensor.Device())

		values, err := tensor.Dequantize()
		require.NoError(t, err)
		assert.Equal(t, repeatFloat32(128, 1), values)
	})

	t.Run("F16 values", func(t *testing.T) {
		tensor, err := root.Push("block").Push("0").Get([]int{4}, "bias")
		require.NoError(t, err)
		values, err := tensor.Dequantize()
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2, 3, 4}, values)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		vb := root.Push("block").Push("0")
		for _, shape := range [][]int{{4, 64}, {32, 4}, {4}, {4, 32, 1}, {128}, nil} {
			tensor, err := vb.Get(shape, "weight")
			assert.Nil(t, tensor)
			require.ErrorIs(t, err, ErrShapeMismatch)

			var sme *ShapeMismatchError
			require.ErrorAs(t, err, &sme)
			assert.Equal(t, "block.0.weight", sme.Name)
			assert.Equal(t, []int{4, 32}, sme.Found)
			assert.Equal(t, shape, sme.Expected)
		}

		_, err := vb.Get([]int{4, 64}, "weight")
		assert.EqualError(t, err, `shape mismatch for tensor "block.0.weight": found [4 32], expected [4 64]`)
	})

	t.Run("not found", func(t *testing.T) {
		vb := root.Push("block").Push("9")
		for _, get := range []func() (*quant.Tensor, error){
			func() (*quant.Tensor, error) { return vb.Get([]int{4, 32}, "weight") },
			func() (*quant.Tensor, error) { return vb.GetNoShape("weight") },
		} {
			tensor, err := get()
			assert.Nil(t, tensor)
			require.ErrorIs(t, err, ErrNotFound)

			var nfe *NotFoundError
			require.ErrorAs(t, err, &nfe)
			assert.Equal(t, "block.9.weight", nfe.Name)
			assert.EqualError(t, err, `tensor "block.9.weight" not found`)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		vb := root.PushPrefix("block", "1", "attn", "q")
		a, err := vb.Get([]int{2, 32}, "weight")
		require.NoError(t, err)
		b, err := vb.Get([]int{2, 32}, "weight")
		require.NoError(t, err)

		assert.NotSame(t, a, b)
		assert.Equal(t, a.Shape(), b.Shape())
		assert.Equal(t, a.DType(), b.DType())
		assert.Equal(t, a.Data(), b.Data())

		blocks := a.Data().([]quant.BlockQ8_0)
		blocks[0].Qs[0] = 42
		c, err := vb.Get([]int{2, 32}, "weight")
		require.NoError(t, err)
		assert.Equal(t, b.Data(), c.Data())
	})
}

func TestVarBuilder_GetNoShape(t *testing.T) {
	root := newFixtureStore(t).Root()
	tensor, err := root.Push("token_embd").GetNoShape("weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, tensor.Shape())
	assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, tensor.Data())
}

func TestVarBuilder_WithDevice(t *testing.T) {
	root := newFixtureStore(t).Root()
	gpu := root.Push("block").WithDevice("cuda:0")

	assert.Equal(t, quant.CPU, root.Device())
	assert.Equal(t, quant.Device("cuda:0"), gpu.Device())
	assert.Equal(t, quant.Device("cuda:0"), gpu.Push("0").Device())

	tensor, err := gpu.Push("0").Get([]int{4}, "bias")
	require.NoError(t, err)
	assert.Equal(t, quant.Device("cuda:0"), tensor.Device())

	tensor, err = root.PushPrefix("block", "0").Get([]int{4}, "bias")
	require.NoError(t, err)
	assert.Equal(t, quant.CPU, tensor.Device())
}

func TestVarBuilder_Contains(t *testing.T) {
	vb := newFixtureStore(t).Root().Push("block")

	assert.True(t, vb.Contains("block.0.weight"))
	assert.False(t, vb.Contains("0.weight"))
	assert.True(t, vb.ContainsTensor("0.weight"))
	assert.True(t, vb.Push("1").ContainsTensor("attn.q.weight"))
	assert.False(t, vb.ContainsTensor("block.0.weight"))
	assert.False(t, vb.Push("0").ContainsTensor("missing"))
}

func repeatFloat32(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
