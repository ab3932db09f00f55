// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package float16 provides the 16-bit floating point scalar types used by
// quantized tensor storage.
package float16

import (
	"math"

	"github.com/x448/float16"
)

// F16 is a 16-bit IEEE 754 half-precision floating-point value,
// represented as raw bits (uint16).
type F16 uint16

// BF16 is a 16-bit brain floating-point value, represented as raw
// bits (uint16).
type BF16 uint16

// FromFloat32 converts a float32 to the nearest F16 value.
func FromFloat32(f float32) F16 {
	return F16(float16.Fromfloat32(f).Bits())
}

// Float32 converts the F16 value to float32. The conversion is exact.
func (h F16) Float32() float32 {
	return float16.Frombits(uint16(h)).Float32()
}

// BF16FromFloat32 converts a float32 to BF16, rounding to nearest even.
func BF16FromFloat32(f float32) BF16 {
	b := math.Float32bits(f)
	if math.IsNaN(float64(f)) { // keep it a quiet NaN instead of rounding to infinity
		return BF16(b>>16 | 0x40)
	}
	b += 0x7fff + (b>>16)&1
	return BF16(b >> 16)
}

// Float32 converts the BF16 value to float32. The conversion is exact.
func (h BF16) Float32() float32 {
	return math.Float32frombits(uint32(h) << 16)
}
