// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nlpodyssey/qvarbuilder/dtype"
	"github.com/nlpodyssey/qvarbuilder/float16"
)

// Decode interprets raw little-endian data of the given scheme as a
// Tensor with the given shape, tagged with device.
//
// An error is returned if the DType is not supported, if the shape is
// invalid or its number of elements is not a multiple of the scheme's
// block size, or if the length of raw does not match the size implied by
// shape and DType.
//
// The shape is copied; raw is not retained.
func Decode(dt dtype.DType, raw []byte, shape []int, device Device) (*Tensor, error) {
	elements, err := shapeElements(shape)
	if err != nil {
		return nil, err
	}
	size, err := dt.ByteSize(elements)
	if err != nil {
		return nil, err
	}
	if len(raw) != size {
		return nil, fmt.Errorf("%s data of shape %v must be %d bytes long, got %d", dt, shape, size, len(raw))
	}

	var data any
	switch dt {
	case dtype.F32:
		data = decodeF32(raw)
	case dtype.F16:
		data = decode16[float16.F16](raw)
	case dtype.BF16:
		data = decode16[float16.BF16](raw)
	case dtype.Q4_0:
		data = decodeBlocks(raw, dt, parseQ4_0)
	case dtype.Q4_1:
		data = decodeBlocks(raw, dt, parseQ4_1)
	case dtype.Q5_0:
		data = decodeBlocks(raw, dt, parseQ5_0)
	case dtype.Q5_1:
		data = decodeBlocks(raw, dt, parseQ5_1)
	case dtype.Q8_0:
		data = decodeBlocks(raw, dt, parseQ8_0)
	case dtype.Q8_1:
		data = decodeBlocks(raw, dt, parseQ8_1)
	case dtype.Q2_K:
		data = decodeBlocks(raw, dt, parseQ2K)
	case dtype.Q3_K:
		data = decodeBlocks(raw, dt, parseQ3K)
	case dtype.Q4_K:
		data = decodeBlocks(raw, dt, parseQ4K)
	case dtype.Q5_K:
		data = decodeBlocks(raw, dt, parseQ5K)
	case dtype.Q6_K:
		data = decodeBlocks(raw, dt, parseQ6K)
	case dtype.Q8_K:
		data = decodeBlocks(raw, dt, parseQ8K)
	default:
		return nil, fmt.Errorf("invalid or unsupported DType: %s", dt)
	}

	return &Tensor{
		dType:    dt,
		shape:    copyShape(shape),
		elements: elements,
		device:   device,
		data:     data,
	}, nil
}

func shapeElements(shape []int) (int, error) {
	size := 1
	for _, v := range shape {
		if v <= 0 {
			return 0, fmt.Errorf("shape %v contains a non-positive value", shape)
		}
		if size > math.MaxInt/v {
			return 0, fmt.Errorf("int overflow computing elements of shape %v", shape)
		}
		size *= v
	}
	return size, nil
}

func decodeF32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func decode16[T float16.F16 | float16.BF16](raw []byte) []T {
	out := make([]T, len(raw)/2)
	for i := range out {
		out[i] = T(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func decodeBlocks[B any](raw []byte, dt dtype.DType, parse func([]byte) B) []B {
	size := dt.TypeSize()
	out := make([]B, len(raw)/size)
	for i := range out {
		out[i] = parse(raw[i*size : (i+1)*size])
	}
	return out
}
