// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package float16

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestF16(t *testing.T) {
	testCases := []struct {
		bits F16
		f    float32
	}{
		{0x0000, 0},
		{0x3c00, 1},
		{0xbc00, -1},
		{0xc000, -2},
		{0x3800, 0.5},
		{0x7bff, 65504},
		{0x3e00, 1.5},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%#04x", uint16(tc.bits)), func(t *testing.T) {
			assert.Equal(t, tc.f, tc.bits.Float32())
			assert.Equal(t, tc.bits, FromFloat32(tc.f))
		})
	}

	assert.True(t, math.IsInf(float64(F16(0x7c00).Float32()), 1))
}

func TestBF16(t *testing.T) {
	testCases := []struct {
		bits BF16
		f    float32
	}{
		{0x0000, 0},
		{0x3f80, 1},
		{0xbf80, -1},
		{0xc000, -2},
		{0x3f00, 0.5},
		{0x3fc0, 1.5},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%#04x", uint16(tc.bits)), func(t *testing.T) {
			assert.Equal(t, tc.f, tc.bits.Float32())
			assert.Equal(t, tc.bits, BF16FromFloat32(tc.f))
		})
	}

	t.Run("rounding", func(t *testing.T) {
		// 1 + 2^-8 is exactly halfway between two BF16 values: ties to even.
		assert.Equal(t, BF16(0x3f80), BF16FromFloat32(1+1.0/256))
		assert.Equal(t, BF16(0x3f81), BF16FromFloat32(1+3.0/512))
	})

	t.Run("NaN", func(t *testing.T) {
		f := BF16FromFloat32(float32(math.NaN())).Float32()
		assert.True(t, math.IsNaN(float64(f)))
	})
}
