// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quant

import (
	"encoding/binary"
	"math"

	"github.com/nlpodyssey/qvarbuilder/dtype"
	"github.com/nlpodyssey/qvarbuilder/float16"
)

const (
	qk  = dtype.QK
	qkk = dtype.QKK
)

// BlockQ4_0 holds 32 values as 4-bit quants: value = (q - 8) * D.
// Qs[j] packs value j in the low nibble and value j+16 in the high nibble.
type BlockQ4_0 struct {
	D  float16.F16
	Qs [qk / 2]uint8
}

// BlockQ4_1 holds 32 values as 4-bit quants: value = q * D + M.
type BlockQ4_1 struct {
	D  float16.F16
	M  float16.F16
	Qs [qk / 2]uint8
}

// BlockQ5_0 holds 32 values as 5-bit quants: value = (q - 16) * D.
// The fifth bit of each value is stored in Qh.
type BlockQ5_0 struct {
	D  float16.F16
	Qh [4]uint8
	Qs [qk / 2]uint8
}

// BlockQ5_1 holds 32 values as 5-bit quants: value = q * D + M.
type BlockQ5_1 struct {
	D  float16.F16
	M  float16.F16
	Qh [4]uint8
	Qs [qk / 2]uint8
}

// BlockQ8_0 holds 32 values as 8-bit quants: value = q * D.
type BlockQ8_0 struct {
	D  float16.F16
	Qs [qk]int8
}

// BlockQ8_1 holds 32 values as 8-bit quants: value = q * D.
// S is D multiplied by the sum of the quants.
type BlockQ8_1 struct {
	D  float16.F16
	S  float16.F16
	Qs [qk]int8
}

// BlockQ2K is a super-block of 16 blocks of 16 2-bit quants, each block
// with 4-bit scale and minimum.
type BlockQ2K struct {
	Scales [qkk / 16]uint8
	Qs     [qkk / 4]uint8
	D      float16.F16
	DMin   float16.F16
}

// BlockQ3K is a super-block of 16 blocks of 16 3-bit quants, each block
// with a 6-bit scale.
type BlockQ3K struct {
	HMask  [qkk / 8]uint8
	Qs     [qkk / 4]uint8
	Scales [12]uint8
	D      float16.F16
}

// BlockQ4K is a super-block of 8 blocks of 32 4-bit quants, each block
// with 6-bit scale and minimum.
type BlockQ4K struct {
	D      float16.F16
	DMin   float16.F16
	Scales [12]uint8
	Qs     [qkk / 2]uint8
}

// BlockQ5K is a super-block of 8 blocks of 32 5-bit quants, each block
// with 6-bit scale and minimum.
type BlockQ5K struct {
	D      float16.F16
	DMin   float16.F16
	Scales [12]uint8
	Qh     [qkk / 8]uint8
	Qs     [qkk / 2]uint8
}

// BlockQ6K is a super-block of 16 blocks of 16 6-bit quants, each block
// with an 8-bit scale.
type BlockQ6K struct {
	Ql     [qkk / 2]uint8
	Qh     [qkk / 4]uint8
	Scales [qkk / 16]int8
	D      float16.F16
}

// BlockQ8K is a super-block of 256 8-bit quants with a float32 scale.
// BSums holds the sums of each group of 16 quants.
type BlockQ8K struct {
	D     float32
	Qs    [qkk]int8
	BSums [qkk / 16]int16
}

func f16At(b []byte, i int) float16.F16 {
	return float16.F16(binary.LittleEndian.Uint16(b[i:]))
}

func copyInt8(dst []int8, src []byte) {
	for i := range dst {
		dst[i] = int8(src[i])
	}
}

func parseQ4_0(b []byte) (blk BlockQ4_0) {
	blk.D = f16At(b, 0)
	copy(blk.Qs[:], b[2:])
	return
}

func parseQ4_1(b []byte) (blk BlockQ4_1) {
	blk.D = f16At(b, 0)
	blk.M = f16At(b, 2)
	copy(blk.Qs[:], b[4:])
	return
}

func parseQ5_0(b []byte) (blk BlockQ5_0) {
	blk.D = f16At(b, 0)
	copy(blk.Qh[:], b[2:6])
	copy(blk.Qs[:], b[6:])
	return
}

func parseQ5_1(b []byte) (blk BlockQ5_1) {
	blk.D = f16At(b, 0)
	blk.M = f16At(b, 2)
	copy(blk.Qh[:], b[4:8])
	copy(blk.Qs[:], b[8:])
	return
}

func parseQ8_0(b []byte) (blk BlockQ8_0) {
	blk.D = f16At(b, 0)
	copyInt8(blk.Qs[:], b[2:])
	return
}

func parseQ8_1(b []byte) (blk BlockQ8_1) {
	blk.D = f16At(b, 0)
	blk.S = f16At(b, 2)
	copyInt8(blk.Qs[:], b[4:])
	return
}

func parseQ2K(b []byte) (blk BlockQ2K) {
	n := copy(blk.Scales[:], b)
	n += copy(blk.Qs[:], b[n:])
	blk.D = f16At(b, n)
	blk.DMin = f16At(b, n+2)
	return
}

func parseQ3K(b []byte) (blk BlockQ3K) {
	n := copy(blk.HMask[:], b)
	n += copy(blk.Qs[:], b[n:])
	n += copy(blk.Scales[:], b[n:])
	blk.D = f16At(b, n)
	return
}

func parseQ4K(b []byte) (blk BlockQ4K) {
	blk.D = f16At(b, 0)
	blk.DMin = f16At(b, 2)
	n := 4 + copy(blk.Scales[:], b[4:])
	copy(blk.Qs[:], b[n:])
	return
}

func parseQ5K(b []byte) (blk BlockQ5K) {
	blk.D = f16At(b, 0)
	blk.DMin = f16At(b, 2)
	n := 4 + copy(blk.Scales[:], b[4:])
	n += copy(blk.Qh[:], b[n:])
	copy(blk.Qs[:], b[n:])
	return
}

func parseQ6K(b []byte) (blk BlockQ6K) {
	n := copy(blk.Ql[:], b)
	n += copy(blk.Qh[:], b[n:])
	copyInt8(blk.Scales[:], b[n:])
	n += len(blk.Scales)
	blk.D = f16At(b, n)
	return
}

func parseQ8K(b []byte) (blk BlockQ8K) {
	blk.D = math.Float32frombits(binary.LittleEndian.Uint32(b))
	copyInt8(blk.Qs[:], b[4:])
	n := 4 + len(blk.Qs)
	for i := range blk.BSums {
		blk.BSums[i] = int16(binary.LittleEndian.Uint16(b[n+2*i:]))
	}
	return
}
