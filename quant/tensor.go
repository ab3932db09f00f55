// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package quant decodes raw GGUF tensor data into quantized tensors,
// with one codec for each supported dtype.DType.
package quant

import (
	"slices"

	"github.com/nlpodyssey/qvarbuilder/dtype"
)

// Device identifies where a tensor is meant to be placed. The value is
// opaque to this package and is forwarded unchanged.
type Device string

// CPU is the default Device.
const CPU Device = "cpu"

// A Tensor with quantized data fully loaded in memory.
//
// Data is kept in its quantized form, as a slice of blocks of the
// tensor's DType, according to the following pairs:
//
//	DType | Data type
//	------+---------------
//	F32   | []float32
//	F16   | []float16.F16
//	BF16  | []float16.BF16
//	Q4_0  | []BlockQ4_0
//	Q4_1  | []BlockQ4_1
//	Q5_0  | []BlockQ5_0
//	Q5_1  | []BlockQ5_1
//	Q8_0  | []BlockQ8_0
//	Q8_1  | []BlockQ8_1
//	Q2_K  | []BlockQ2K
//	Q3_K  | []BlockQ3K
//	Q4_K  | []BlockQ4K
//	Q5_K  | []BlockQ5K
//	Q6_K  | []BlockQ6K
//	Q8_K  | []BlockQ8K
type Tensor struct {
	dType    dtype.DType
	shape    []int
	elements int
	device   Device
	data     any
}

// DType returns the quantization scheme of the tensor.
func (t *Tensor) DType() dtype.DType {
	return t.dType
}

// The Shape of the tensor.
//
// If the shape is zero-length, it returns nil, otherwise a new slice
// is allocated and returned (the shape is copied to prevent tampering).
func (t *Tensor) Shape() []int {
	return copyShape(t.shape)
}

// Elements returns the number of values of the tensor.
func (t *Tensor) Elements() int {
	return t.elements
}

// Device returns the device the tensor has been decoded for.
func (t *Tensor) Device() Device {
	return t.device
}

// The Data of the tensor.
// Possible values are documented on the main Tensor type.
//
// The value returned is NOT a copy: any change to its content will
// affect the Tensor too.
func (t *Tensor) Data() any {
	return t.data
}

// StorageSize returns the size in bytes of the encoded tensor data.
func (t *Tensor) StorageSize() int {
	return t.elements / t.dType.BlockSize() * t.dType.TypeSize()
}

func copyShape(s []int) []int {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}
