// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package header

import (
	"fmt"
	"math"
	"testing"

	"github.com/nlpodyssey/qvarbuilder/dtype"
	"github.com/stretchr/testify/assert"
)

func TestHeader_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		testCases := []Header{
			{Alignment: 32},
			{Alignment: 1, ByteBufferOffset: 7},
			{Alignment: 32, ByteBufferOffset: 64, Tensors: TensorMap{
				"a": {Name: "a", DType: dtype.F32, Shape: Shape{2, 3}, Offset: 0},
				"b": {Name: "b", DType: dtype.Q4_0, Shape: Shape{2, 32}, Offset: 32},
				"c": {Name: "c", DType: dtype.Q4_K, Shape: Shape{256}, Offset: 96},
			}},
			{Alignment: 32, Tensors: TensorMap{
				"scalar": {Name: "scalar", DType: dtype.F32, Shape: nil, Offset: 0},
			}},
			{Alignment: 32, Tensors: TensorMap{
				// gaps between tensors and out-of-order offsets are fine
				"a": {Name: "a", DType: dtype.F16, Shape: Shape{4}, Offset: 128},
				"b": {Name: "b", DType: dtype.F16, Shape: Shape{4}, Offset: 0},
			}},
		}
		for i, h := range testCases {
			t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
				assert.NoError(t, h.Validate())
			})
		}
	})

	t.Run("invalid", func(t *testing.T) {
		testCases := []struct {
			name   string
			header Header
			err    string
		}{
			{
				"zero alignment",
				Header{},
				"invalid alignment 0: must be a positive power of two",
			},
			{
				"alignment not a power of two",
				Header{Alignment: 24},
				"invalid alignment 24: must be a positive power of two",
			},
			{
				"negative byte-buffer offset",
				Header{Alignment: 32, ByteBufferOffset: -32},
				"invalid byte-buffer offset negative value -32",
			},
			{
				"unaligned byte-buffer offset",
				Header{Alignment: 32, ByteBufferOffset: 40},
				"byte-buffer offset 40 is not aligned to 32",
			},
			{
				"name mismatch",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "b", DType: dtype.F32, Shape: Shape{1}},
				}},
				`tensor names mismatch: TensorMap key "a", Tensor.Name "b"`,
			},
			{
				"invalid dtype",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.DType(5), Shape: Shape{1}},
				}},
				`invalid tensor "a": invalid DType(5)`,
			},
			{
				"zero dimension",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{2, 0}},
				}},
				`invalid tensor "a": shape [2 0] has non-positive dimension at index 1`,
			},
			{
				"negative dimension",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{-1}},
				}},
				`invalid tensor "a": shape [-1] has non-positive dimension at index 0`,
			},
			{
				"row not a multiple of block size",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.Q4_0, Shape: Shape{4, 4}},
				}},
				`invalid tensor "a": innermost dimension 4 is not a multiple of Q4_0 block size 32`,
			},
			{
				"quantized scalar",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.Q8_0},
				}},
				`invalid tensor "a": number of elements 1 is not a multiple of Q8_0 block size 32`,
			},
			{
				"unaligned offset",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{1}, Offset: 4},
				}},
				`invalid tensor "a": data offset 4 is not aligned to 32`,
			},
			{
				"overlap",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{16}, Offset: 0},
					"b": {Name: "b", DType: dtype.F32, Shape: Shape{1}, Offset: 32},
				}},
				`invalid tensor "b": data [32, 36) overlaps tensor "a" data [0, 64)`,
			},
			{
				"overlap with earlier longer tensor",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{64}, Offset: 0},
					"b": {Name: "b", DType: dtype.F32, Shape: Shape{1}, Offset: 32},
					"c": {Name: "c", DType: dtype.F32, Shape: Shape{1}, Offset: 128},
				}},
				`invalid tensor "b": data [32, 36) overlaps tensor "a" data [0, 256)`,
			},
			{
				"same offset",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{1}, Offset: 0},
					"b": {Name: "b", DType: dtype.F32, Shape: Shape{1}, Offset: 0},
				}},
				`invalid tensor "b": data [0, 4) overlaps tensor "a" data [0, 4)`,
			},
			{
				"elements overflow",
				Header{Alignment: 32, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{math.MaxInt, 2}},
				}},
				`invalid tensor "a": int overflow computing tensor elements size from shape`,
			},
			{
				"offset overflow",
				Header{Alignment: 1, Tensors: TensorMap{
					"a": {Name: "a", DType: dtype.F32, Shape: Shape{2}, Offset: math.MaxInt - 4},
				}},
				`invalid tensor "a": failed to compute data-offsets end: int sum overflow`,
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				assert.EqualError(t, tc.header.Validate(), tc.err)
			})
		}
	})
}
