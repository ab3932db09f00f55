// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quant

import (
	"encoding/binary"
	"fmt"

	"github.com/nlpodyssey/qvarbuilder/float16"
)

// Dequantize expands the tensor data into a new slice of float32 values,
// in row-major order.
func (t *Tensor) Dequantize() ([]float32, error) {
	out := make([]float32, t.elements)
	switch data := t.data.(type) {
	case []float32:
		copy(out, data)
	case []float16.F16:
		for i, v := range data {
			out[i] = v.Float32()
		}
	case []float16.BF16:
		for i, v := range data {
			out[i] = v.Float32()
		}
	case []BlockQ4_0:
		dequantizeBlocks(out, data, qk)
	case []BlockQ4_1:
		dequantizeBlocks(out, data, qk)
	case []BlockQ5_0:
		dequantizeBlocks(out, data, qk)
	case []BlockQ5_1:
		dequantizeBlocks(out, data, qk)
	case []BlockQ8_0:
		dequantizeBlocks(out, data, qk)
	case []BlockQ8_1:
		dequantizeBlocks(out, data, qk)
	case []BlockQ2K:
		dequantizeBlocks(out, data, qkk)
	case []BlockQ3K:
		dequantizeBlocks(out, data, qkk)
	case []BlockQ4K:
		dequantizeBlocks(out, data, qkk)
	case []BlockQ5K:
		dequantizeBlocks(out, data, qkk)
	case []BlockQ6K:
		dequantizeBlocks(out, data, qkk)
	case []BlockQ8K:
		dequantizeBlocks(out, data, qkk)
	default:
		return nil, fmt.Errorf("cannot dequantize data of type %T", t.data)
	}
	return out, nil
}

type block interface {
	dequantize(y []float32)
}

func dequantizeBlocks[B block](out []float32, blocks []B, blockSize int) {
	for i := range blocks {
		blocks[i].dequantize(out[i*blockSize : (i+1)*blockSize])
	}
}

func (b BlockQ4_0) dequantize(y []float32) {
	d := b.D.Float32()
	for j, q := range b.Qs {
		y[j] = float32(int(q&0x0f)-8) * d
		y[j+qk/2] = float32(int(q>>4)-8) * d
	}
}

func (b BlockQ4_1) dequantize(y []float32) {
	d, m := b.D.Float32(), b.M.Float32()
	for j, q := range b.Qs {
		y[j] = float32(q&0x0f)*d + m
		y[j+qk/2] = float32(q>>4)*d + m
	}
}

func (b BlockQ5_0) dequantize(y []float32) {
	d := b.D.Float32()
	qh := binary.LittleEndian.Uint32(b.Qh[:])
	for j, q := range b.Qs {
		xh0 := uint8((qh>>j)<<4) & 0x10
		xh1 := uint8(qh>>(j+12)) & 0x10
		y[j] = float32(int(q&0x0f|xh0)-16) * d
		y[j+qk/2] = float32(int(q>>4|xh1)-16) * d
	}
}

func (b BlockQ5_1) dequantize(y []float32) {
	d, m := b.D.Float32(), b.M.Float32()
	qh := binary.LittleEndian.Uint32(b.Qh[:])
	for j, q := range b.Qs {
		xh0 := uint8((qh>>j)<<4) & 0x10
		xh1 := uint8(qh>>(j+12)) & 0x10
		y[j] = float32(q&0x0f|xh0)*d + m
		y[j+qk/2] = float32(q>>4|xh1)*d + m
	}
}

func (b BlockQ8_0) dequantize(y []float32) {
	d := b.D.Float32()
	for j, q := range b.Qs {
		y[j] = float32(q) * d
	}
}

func (b BlockQ8_1) dequantize(y []float32) {
	d := b.D.Float32()
	for j, q := range b.Qs {
		y[j] = float32(q) * d
	}
}

func (b BlockQ2K) dequantize(y []float32) {
	d, dMin := b.D.Float32(), b.DMin.Float32()
	is := 0
	for n := 0; n < qkk; n += 128 {
		q := b.Qs[n/4 : n/4+32]
		for shift := uint(0); shift < 8; shift += 2 {
			for half := 0; half < 2; half++ {
				sc := b.Scales[is]
				is++
				dl, ml := d*float32(sc&0x0f), dMin*float32(sc>>4)
				for l := 0; l < 16; l++ {
					y[0] = dl*float32((q[half*16+l]>>shift)&3) - ml
					y = y[1:]
				}
			}
		}
	}
}

// q3KScales unpacks the sixteen 6-bit scales of a Q3_K block.
func q3KScales(packed [12]uint8) (scales [16]int8) {
	const kmask1, kmask2 = 0x03030303, 0x0f0f0f0f
	var aux [4]uint32
	aux[0] = binary.LittleEndian.Uint32(packed[0:])
	aux[1] = binary.LittleEndian.Uint32(packed[4:])
	aux[2] = binary.LittleEndian.Uint32(packed[8:])
	tmp := aux[2]
	aux[2] = ((aux[0] >> 4) & kmask2) | (((tmp >> 4) & kmask1) << 4)
	aux[3] = ((aux[1] >> 4) & kmask2) | (((tmp >> 6) & kmask1) << 4)
	aux[0] = (aux[0] & kmask2) | (((tmp >> 0) & kmask1) << 4)
	aux[1] = (aux[1] & kmask2) | (((tmp >> 2) & kmask1) << 4)
	for i, v := range aux {
		for k := 0; k < 4; k++ {
			scales[4*i+k] = int8(v >> (8 * k))
		}
	}
	return scales
}

func (b BlockQ3K) dequantize(y []float32) {
	d := b.D.Float32()
	scales := q3KScales(b.Scales)
	m := uint8(1)
	is := 0
	for n := 0; n < qkk; n += 128 {
		q := b.Qs[n/4 : n/4+32]
		for shift := uint(0); shift < 8; shift += 2 {
			for half := 0; half < 2; half++ {
				dl := d * float32(int(scales[is])-32)
				is++
				for l := half * 16; l < half*16+16; l++ {
					v := int((q[l] >> shift) & 3)
					if b.HMask[l]&m == 0 {
						v -= 4
					}
					y[0] = dl * float32(v)
					y = y[1:]
				}
			}
			m <<= 1
		}
	}
}

// scaleMinK4 extracts the j-th 6-bit scale and minimum of Q4_K and Q5_K
// blocks.
func scaleMinK4(j int, q [12]uint8) (sc, m uint8) {
	if j < 4 {
		return q[j] & 63, q[j+4] & 63
	}
	return (q[j+4] & 0x0f) | ((q[j-4] >> 6) << 4), (q[j+4] >> 4) | ((q[j] >> 6) << 4)
}

func (b BlockQ4K) dequantize(y []float32) {
	d, dMin := b.D.Float32(), b.DMin.Float32()
	is := 0
	for j := 0; j < qkk; j += 64 {
		q := b.Qs[j/2 : j/2+32]
		sc, m := scaleMinK4(is, b.Scales)
		d1, m1 := d*float32(sc), dMin*float32(m)
		sc, m = scaleMinK4(is+1, b.Scales)
		d2, m2 := d*float32(sc), dMin*float32(m)
		for l := 0; l < 32; l++ {
			y[j+l] = d1*float32(q[l]&0x0f) - m1
			y[j+32+l] = d2*float32(q[l]>>4) - m2
		}
		is += 2
	}
}

func (b BlockQ5K) dequantize(y []float32) {
	d, dMin := b.D.Float32(), b.DMin.Float32()
	is := 0
	u1, u2 := uint8(1), uint8(2)
	for j := 0; j < qkk; j += 64 {
		ql := b.Qs[j/2 : j/2+32]
		sc, m := scaleMinK4(is, b.Scales)
		d1, m1 := d*float32(sc), dMin*float32(m)
		sc, m = scaleMinK4(is+1, b.Scales)
		d2, m2 := d*float32(sc), dMin*float32(m)
		for l := 0; l < 32; l++ {
			lo, hi := ql[l]&0x0f, ql[l]>>4
			if b.Qh[l]&u1 != 0 {
				lo += 16
			}
			if b.Qh[l]&u2 != 0 {
				hi += 16
			}
			y[j+l] = d1*float32(lo) - m1
			y[j+32+l] = d2*float32(hi) - m2
		}
		is += 2
		u1 <<= 2
		u2 <<= 2
	}
}

func (b BlockQ6K) dequantize(y []float32) {
	d := b.D.Float32()
	for n := 0; n < qkk; n += 128 {
		ql := b.Ql[n/2 : n/2+64]
		qh := b.Qh[n/4 : n/4+32]
		sc := b.Scales[n/16 : n/16+8]
		for l := 0; l < 32; l++ {
			is := l / 16
			q1 := int(ql[l]&0x0f|((qh[l]>>0)&3)<<4) - 32
			q2 := int(ql[l+32]&0x0f|((qh[l]>>2)&3)<<4) - 32
			q3 := int(ql[l]>>4|((qh[l]>>4)&3)<<4) - 32
			q4 := int(ql[l+32]>>4|((qh[l]>>6)&3)<<4) - 32
			y[n+l] = d * float32(sc[is]) * float32(q1)
			y[n+l+32] = d * float32(sc[is+2]) * float32(q2)
			y[n+l+64] = d * float32(sc[is+4]) * float32(q3)
			y[n+l+96] = d * float32(sc[is+6]) * float32(q4)
		}
	}
}

func (b BlockQ8K) dequantize(y []float32) {
	for j, q := range b.Qs {
		y[j] = b.D * float32(q)
	}
}
